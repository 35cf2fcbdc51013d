package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/experiment-core/internal/component"
	"github.com/nerrad567/experiment-core/internal/infrastructure/mqtt"
)

// disabledChoice is the display name of the "no implementation" choice.
const disabledChoice = "Disabled"

// SlotView is one entry of the slot list.
type SlotView struct {
	Contract      string `json:"contract"`
	ContractName  string `json:"contract_name"`
	Icon          string `json:"icon,omitempty"`
	Slot          string `json:"slot"`
	Active        string `json:"active"`
	ActiveDisplay string `json:"active_display"`
}

// SlotDetail is a slot with the settings of its active instance.
type SlotDetail struct {
	SlotView
	Settings []component.Field `json:"settings"`
}

// ImplementationView is one selectable choice for a slot. The disabled
// choice has an empty name.
type ImplementationView struct {
	Name        string            `json:"name"`
	DisplayName string            `json:"display_name"`
	Icon        string            `json:"icon,omitempty"`
	HasSettings bool              `json:"has_settings"`
	Defaults    []component.Field `json:"defaults,omitempty"`
}

// ActivateRequest is the body of PUT /slots/{contract}/{slot}. A null or
// empty implementation disables the slot. Settings are overlaid on the
// implementation's defaults.
type ActivateRequest struct {
	Implementation *string        `json:"implementation"`
	Settings       map[string]any `json:"settings,omitempty"`
}

func viewOf(info component.SlotInfo) SlotView {
	active := info.ActiveDisplay
	if info.Active == "" {
		active = disabledChoice
	}
	return SlotView{
		Contract:      info.Ref.Contract.Key(),
		ContractName:  info.Contract.Name,
		Icon:          info.Contract.Icon,
		Slot:          info.Ref.ID,
		Active:        info.Active,
		ActiveDisplay: active,
	}
}

// handleListSlots returns every slot in registration order.
func (s *Server) handleListSlots(w http.ResponseWriter, _ *http.Request) {
	slots := s.container.Slots()
	views := make([]SlotView, 0, len(slots))
	for _, info := range slots {
		views = append(views, viewOf(info))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slots": views,
		"count": len(views),
	})
}

// lookupSlot resolves the {contract}/{slot} URL parameters.
func (s *Server) lookupSlot(r *http.Request) (component.SlotInfo, error) {
	slotParam := chi.URLParam(r, "slot")
	if unescaped, err := url.PathUnescape(slotParam); err == nil {
		slotParam = unescaped
	}
	return s.findSlot(chi.URLParam(r, "contract"), slotParam)
}

// findSlot returns the slot of contractKey whose id or slug is slot
// ("Pressure Sensor" or "pressure-sensor").
func (s *Server) findSlot(contractKey, slot string) (component.SlotInfo, error) {
	for _, info := range s.container.Slots() {
		if info.Ref.Contract.Key() != contractKey {
			continue
		}
		if info.Ref.ID == slot || mqtt.Slug(info.Ref.ID) == slot {
			return info, nil
		}
	}
	return component.SlotInfo{}, fmt.Errorf("%w: %s/%s", component.ErrUnknownSlot, contractKey, slot)
}

// findSlotKey resolves a "<contract>/<slot>" key as used on the WebSocket.
func (s *Server) findSlotKey(key string) (component.SlotInfo, error) {
	contractKey, slot, ok := strings.Cut(key, "/")
	if !ok {
		return component.SlotInfo{}, fmt.Errorf("%w: %q is not <contract>/<slot>", component.ErrUnknownSlot, key)
	}
	return s.findSlot(contractKey, slot)
}

func (s *Server) detailOf(info component.SlotInfo) (SlotDetail, error) {
	detail := SlotDetail{SlotView: viewOf(info), Settings: []component.Field{}}
	if info.Active == "" {
		return detail, nil
	}
	impl, ok := s.container.Implementation(info.Active)
	if !ok {
		return detail, nil
	}
	st, err := component.ResolveSettingsType(impl)
	if err != nil || st == nil {
		return detail, err
	}
	settings, err := s.container.ActiveSettings(info.Ref.Contract, info.Ref.ID)
	if err != nil {
		return detail, err
	}
	if settings == nil {
		return detail, nil
	}
	fields, err := st.Fields(settings)
	if err != nil {
		return detail, err
	}
	detail.Settings = fields
	return detail, nil
}

// handleGetSlot returns one slot with its active settings.
func (s *Server) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	info, err := s.lookupSlot(r)
	if err != nil {
		writeContainerError(w, err)
		return
	}
	s.writeDetail(w, info.Ref)
}

func (s *Server) writeDetail(w http.ResponseWriter, ref component.SlotRef) {
	for _, info := range s.container.Slots() {
		if info.Ref != ref {
			continue
		}
		detail, err := s.detailOf(info)
		if err != nil {
			writeContainerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, detail)
		return
	}
	writeContainerError(w, fmt.Errorf("%w: %s", component.ErrUnknownSlot, ref))
}

// handleListImplementations lists the disabled choice followed by every
// candidate implementation of the slot's contract.
func (s *Server) handleListImplementations(w http.ResponseWriter, r *http.Request) {
	info, err := s.lookupSlot(r)
	if err != nil {
		writeContainerError(w, err)
		return
	}
	candidates, err := s.container.Implementations(info.Ref.Contract)
	if err != nil {
		writeContainerError(w, err)
		return
	}

	views := make([]ImplementationView, 0, len(candidates)+1)
	views = append(views, ImplementationView{DisplayName: disabledChoice})
	for _, c := range candidates {
		view := ImplementationView{
			Name:        c.Name,
			DisplayName: c.Descriptor.Name,
			Icon:        c.Descriptor.Icon,
			HasSettings: c.HasSettings,
		}
		if c.HasSettings {
			if impl, ok := s.container.Implementation(c.Name); ok {
				if st, err := component.ResolveSettingsType(impl); err == nil && st != nil {
					view.Defaults, _ = st.Fields(st.Default())
				}
			}
		}
		views = append(views, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"slot":            info.Ref.ID,
		"active":          info.Active,
		"implementations": views,
	})
}

// handleActivateSlot activates, swaps or disables the slot's implementation.
func (s *Server) handleActivateSlot(w http.ResponseWriter, r *http.Request) {
	info, err := s.lookupSlot(r)
	if err != nil {
		writeContainerError(w, err)
		return
	}

	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	name := ""
	if req.Implementation != nil {
		name = *req.Implementation
	}

	if err := s.container.ActivateFlat(info.Ref.Contract, info.Ref.ID, name, req.Settings); err != nil {
		writeContainerError(w, err)
		return
	}
	s.logger.Info("slot changed via API",
		"slot", info.Ref.Key(),
		"implementation", name,
		"subject", r.Context().Value(ctxKeySubject),
	)
	s.writeDetail(w, info.Ref)
}

// handleReloadSlot rebuilds the active instance with its current settings.
func (s *Server) handleReloadSlot(w http.ResponseWriter, r *http.Request) {
	info, err := s.lookupSlot(r)
	if err != nil {
		writeContainerError(w, err)
		return
	}
	if err := s.container.Reload(info.Ref.Contract, info.Ref.ID); err != nil {
		writeContainerError(w, err)
		return
	}
	s.writeDetail(w, info.Ref)
}
