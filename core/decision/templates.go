package decision

import (
	"github.com/gofrs/uuid/v5"

	"sapsan-iro/core/classify"
	"sapsan-iro/core/store"
)

// ResponseTemplate maps an incident category to a concrete action plan.
// Build returns fresh actions with new ids on every call; depends_on edges
// reference ids within the same build.
type ResponseTemplate struct {
	Name     string
	Category string
	// Match narrows the template beyond the category; nil means the
	// category alone decides.
	Match func(incident *store.Incident, classification *store.Classification) bool
	Build func(incident *store.Incident) []store.Action
}

type TemplateRegistry struct {
	templates []ResponseTemplate
}

func NewTemplateRegistry(templates ...ResponseTemplate) *TemplateRegistry {
	if len(templates) == 0 {
		templates = DefaultTemplates()
	}
	return &TemplateRegistry{templates: templates}
}

// Select returns the matching template for the classification, or nil when
// nothing matches. Ties break on fewest actions, then registration order, so
// selection is deterministic.
func (r *TemplateRegistry) Select(incident *store.Incident, classification *store.Classification) *ResponseTemplate {
	var best *ResponseTemplate
	var bestLen int
	for i := range r.templates {
		tpl := &r.templates[i]
		if tpl.Category != classification.Category {
			continue
		}
		if tpl.Match != nil && !tpl.Match(incident, classification) {
			continue
		}
		n := len(tpl.Build(incident))
		if best == nil || n < bestLen {
			best = tpl
			bestLen = n
		}
	}
	return best
}

func newActionID() string {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Must(uuid.NewV7()).String()
	}
	return id.String()
}

func DefaultTemplates() []ResponseTemplate {
	return []ResponseTemplate{
		{
			Name:     "contain-unauthorized-access",
			Category: classify.CategoryUnauthorizedAccess,
			Build: func(incident *store.Incident) []store.Action {
				revoke := store.Action{
					ID:       newActionID(),
					Type:     "access_control",
					Params:   map[string]string{"operation": "revoke", "location": incident.Location},
					Critical: true,
				}
				status := store.Action{
					ID:        newActionID(),
					Type:      "property_update",
					Params:    map[string]string{"operation": "flag_location", "location": incident.Location},
					DependsOn: []string{revoke.ID},
				}
				notify := store.Action{
					ID:        newActionID(),
					Type:      "notification",
					Params:    map[string]string{"channel": "security", "template": "unauthorized_access"},
					DependsOn: []string{revoke.ID},
				}
				return []store.Action{revoke, status, notify}
			},
		},
		{
			Name:     "freeze-payment-anomaly",
			Category: classify.CategoryPaymentAnomaly,
			Build: func(incident *store.Incident) []store.Action {
				freeze := store.Action{
					ID:       newActionID(),
					Type:     "property_update",
					Params:   map[string]string{"operation": "freeze_folio", "location": incident.Location},
					Critical: true,
				}
				notify := store.Action{
					ID:        newActionID(),
					Type:      "notification",
					Params:    map[string]string{"channel": "finance", "template": "payment_anomaly"},
					DependsOn: []string{freeze.ID},
				}
				return []store.Action{freeze, notify}
			},
		},
		{
			Name:     "contain-data-exposure",
			Category: classify.CategoryDataExposure,
			Build: func(incident *store.Incident) []store.Action {
				revoke := store.Action{
					ID:       newActionID(),
					Type:     "access_control",
					Params:   map[string]string{"operation": "revoke_credentials"},
					Critical: true,
				}
				notify := store.Action{
					ID:        newActionID(),
					Type:      "notification",
					Params:    map[string]string{"channel": "privacy", "template": "data_exposure"},
					DependsOn: []string{revoke.ID},
				}
				task := store.Action{
					ID:        newActionID(),
					Type:      "workforce_task",
					Params:    map[string]string{"team": "security", "task": "exposure_review"},
					DependsOn: []string{revoke.ID},
				}
				return []store.Action{revoke, notify, task}
			},
		},
		{
			Name:     "dispatch-facility-fault",
			Category: classify.CategoryFacilityFault,
			Build: func(incident *store.Incident) []store.Action {
				task := store.Action{
					ID:       newActionID(),
					Type:     "workforce_task",
					Params:   map[string]string{"team": "maintenance", "location": incident.Location},
					Critical: true,
				}
				notify := store.Action{
					ID:        newActionID(),
					Type:      "notification",
					Params:    map[string]string{"channel": "operations", "template": "facility_fault"},
					DependsOn: []string{task.ID},
				}
				return []store.Action{task, notify}
			},
		},
	}
}
