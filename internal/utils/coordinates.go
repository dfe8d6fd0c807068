package utils

// ToDecimalDegrees converts a degrees/minutes/seconds triplet and its hemisphere
// reference (N, S, E, W) into signed decimal degrees. South and west are negative.
// Values are not range checked; out-of-range input passes straight through.
func ToDecimalDegrees(degrees, minutes, seconds float64, hemisphere string) float64 {
	dd := degrees + minutes/60 + seconds/3600
	if hemisphere == "S" || hemisphere == "W" {
		dd = -dd
	}
	return dd
}
