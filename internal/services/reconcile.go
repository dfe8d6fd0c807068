package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mira-api/internal/errors"
	"mira-api/internal/metrics"
	"mira-api/internal/models"

	"go.uber.org/zap"
)

// AddressState describes how an asset's address relates to its coordinates.
type AddressState string

const (
	StateUnlocated  AddressState = "UNLOCATED"
	StateManual     AddressState = "MANUAL"
	StateGPSPending AddressState = "GPS_PENDING"
	StateGPSLocked  AddressState = "GPS_LOCKED"
)

func StateOf(asset models.MediaAsset) AddressState {
	switch {
	case asset.HasGPS && asset.Address != "":
		return StateGPSLocked
	case asset.HasGPS:
		return StateGPSPending
	case asset.Address != "":
		return StateManual
	default:
		return StateUnlocated
	}
}

// ReconcileService keeps an asset's address and coordinates consistent.
// Once an asset holds both, its address can no longer be changed through Save.
type ReconcileService struct {
	store    AssetStore
	geocoder Geocoder
	logger   *zap.Logger
	now      func() time.Time
}

func NewReconcileService(store AssetStore, geocoder Geocoder, logger *zap.Logger) *ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileService{
		store:    store,
		geocoder: geocoder,
		logger:   logger.Named("reconcile"),
		now:      time.Now,
	}
}

// OnLoad returns the asset, first resolving the address of a GPS_PENDING
// asset by reverse geocoding. An empty lookup leaves it pending for the
// next load.
func (r *ReconcileService) OnLoad(ctx context.Context, id string) (*models.MediaAsset, error) {
	asset, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if StateOf(*asset) != StateGPSPending {
		return asset, nil
	}

	coords, ok := asset.Coordinates()
	if !ok {
		return asset, nil
	}

	address := r.geocoder.ReverseGeocode(ctx, coords.Lat, coords.Lng)
	if address == "" {
		r.logger.Debug("reverse geocoding gave no address", zap.String("asset", id))
		return asset, nil
	}

	// Re-read so a save that landed during the lookup is not overwritten
	current, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if StateOf(*current) != StateGPSPending {
		return current, nil
	}

	current.Address = address
	current.UpdatedAt = r.now()
	if err := r.store.Replace(ctx, *current); err != nil {
		return nil, fmt.Errorf("store resolved address: %w", err)
	}

	r.transition(StateGPSPending, StateGPSLocked)
	return current, nil
}

// Save applies an edit on behalf of actor. Address writes to a locked asset
// are ignored. When an asset without coordinates gets a new address, the
// address is geocoded and, on success, the asset adopts the coordinates.
func (r *ReconcileService) Save(ctx context.Context, actor models.Actor, id string, edit models.AssetEdit) (*models.MediaAsset, error) {
	asset, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.CanEdit(*asset) {
		return nil, errors.ErrForbidden
	}

	before := StateOf(*asset)
	next := *asset

	if edit.Address != nil && !asset.AddressLocked() {
		next.Address = strings.TrimSpace(*edit.Address)
	}
	if edit.Observation != nil {
		next.Observation = *edit.Observation
	}

	if !asset.HasGPS && next.Address != "" && next.Address != asset.Address {
		if coords := r.geocoder.GeocodeAddress(ctx, next.Address); coords != nil {
			lat, lng := coords.Lat, coords.Lng
			next.Latitude = &lat
			next.Longitude = &lng
			next.HasGPS = true
		} else {
			r.logger.Debug("address could not be geocoded", zap.String("asset", id))
		}
	}

	next.UpdatedAt = r.now()
	if err := r.store.Replace(ctx, next); err != nil {
		return nil, fmt.Errorf("save asset: %w", err)
	}

	if after := StateOf(next); after != before {
		r.transition(before, after)
	}
	return &next, nil
}

func (r *ReconcileService) transition(from, to AddressState) {
	metrics.ReconcileTransitions.WithLabelValues(string(from), string(to)).Inc()
}
