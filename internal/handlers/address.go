package handlers

import (
	"errors"
	"net/http"
	"strings"

	"mira-api/internal/services"
)

// HandleAddressSuggest returns autocomplete candidates for a partial address.
// Each caller/session pair is debounced; a request overtaken by a newer one
// from the same session gets 204. When asset names a GPS-locked asset the
// request is refused with 409.
//
//	@Summary		Address suggestions
//	@Tags			address
//	@Produce		json
//	@Param			q		query		string	true	"Partial address"
//	@Param			session	query		string	false	"Editor session key"
//	@Param			asset	query		string	false	"Asset being edited"
//	@Success		200		{object}	map[string][]string
//	@Success		204		{string}	string	"Superseded by a newer query"
//	@Failure		409		{string}	string	"Address locked"
//	@Security		BearerAuth
//	@Router			/address/suggest [get]
func (h *Handler) HandleAddressSuggest(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	if id := query.Get("asset"); id != "" {
		view, err := h.assets.Get(r.Context(), actor, id)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if view.AddressLocked {
			http.Error(w, "Address is locked", http.StatusConflict)
			return
		}
	}

	suggestions, err := h.suggest.Suggest(r.Context(), actor.Id, query.Get("session"), query.Get("q"))
	if err != nil {
		if errors.Is(err, services.ErrSuperseded) || r.Context().Err() != nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeError(w, r, err)
		return
	}

	if suggestions == nil {
		suggestions = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"suggestions": suggestions})
}

// HandleAddressLocate forward-geocodes an address so the map can be centred on it.
//
//	@Summary		Locate an address
//	@Tags			address
//	@Produce		json
//	@Param			q	query		string	true	"Address"
//	@Success		200	{object}	models.LatLng
//	@Failure		400	{string}	string	"Bad Request"
//	@Failure		404	{string}	string	"Not Found"
//	@Security		BearerAuth
//	@Router			/address/locate [get]
func (h *Handler) HandleAddressLocate(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.URL.Query().Get("q"))
	if address == "" {
		http.Error(w, "Missing q parameter", http.StatusBadRequest)
		return
	}

	coords := h.geocoder.GeocodeAddress(r.Context(), address)
	if coords == nil {
		http.Error(w, "Address not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, coords)
}
