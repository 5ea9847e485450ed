package handlers

import (
	"net/http"

	"advsandbox/pkg/api"
)

// ListAttackMethods handles GET /attack-methods.
func (h *Handlers) ListAttackMethods(w http.ResponseWriter, r *http.Request) {
	strategies := h.svc.Registry().List()
	out := make([]api.AttackMethodResponse, 0, len(strategies))
	for _, s := range strategies {
		m := api.AttackMethodResponse{
			ID:                    s.ID(),
			Name:                  s.Name(),
			Description:           s.Description(),
			Parameters:            []api.AttackParam{},
			DefaultTimeoutSeconds: s.DefaultTimeout().Seconds(),
		}
		for _, mod := range s.Modalities() {
			m.Modalities = append(m.Modalities, string(mod))
		}
		for _, p := range s.Params() {
			m.Parameters = append(m.Parameters, api.AttackParam{
				Name:        p.Name,
				Description: p.Description,
				Min:         p.Min,
				Max:         p.Max,
				Default:     p.Default,
				Integer:     p.Integer,
			})
		}
		out = append(out, m)
	}
	h.respondJson(w, http.StatusOK, out)
}
