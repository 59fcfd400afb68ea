// Package compliance assembles the audit event store into compliance
// reports and one-off exports. It is a thin read-side layer over
// pkg/audit's Query contract — it never writes events and never touches
// the archival pipeline (archival is for cold storage plus verification;
// export here is for hand-off).
package compliance

import "github.com/tachikoma-dev/tachikoma/pkg/audit"

// Framework identifies the compliance regime a Control belongs to.
type Framework string

const (
	FrameworkSOC2 Framework = "soc2"
	FrameworkGDPR Framework = "gdpr"
)

func (f Framework) DisplayName() string {
	switch f {
	case FrameworkSOC2:
		return "SOC 2"
	case FrameworkGDPR:
		return "GDPR"
	default:
		return string(f)
	}
}

// Control is a named compliance requirement satisfied by one or more
// categories and actions of audit event.
type Control struct {
	ID          string
	Name        string
	Description string
	Framework   Framework
	Categories  []audit.Category
	Actions     []string
}

// Library is a static catalog of named compliance controls.
type Library struct {
	controls map[string]Control
}

// NewLibrary builds a library preloaded with the default SOC 2 and GDPR
// controls relevant to an agentic system: access to primitives, audit
// configuration changes, and data transfer out of the sandbox.
func NewLibrary() *Library {
	l := &Library{controls: make(map[string]Control)}
	l.loadSOC2()
	l.loadGDPR()
	return l
}

func (l *Library) loadSOC2() {
	for _, c := range []Control{
		{
			ID:          "CC6.1",
			Name:        "Logical Access Security",
			Description: "Access to primitive execution and provider calls is authenticated and authorized.",
			Framework:   FrameworkSOC2,
			Categories:  []audit.Category{audit.CategoryAuthN, audit.CategoryAuthZ},
			Actions:     []string{"login", "logout", "access_granted", "access_denied"},
		},
		{
			ID:          "CC6.3",
			Name:        "Access Removal",
			Description: "Credentials and tool approvals are revocable and revocation is recorded.",
			Framework:   FrameworkSOC2,
			Categories:  []audit.Category{audit.CategoryUserMgmt},
			Actions:     []string{"user_deleted", "user_disabled", "role_revoked"},
		},
		{
			ID:          "CC7.1",
			Name:        "System Operations",
			Description: "Configuration changes to loop, provider, and tracker settings are logged.",
			Framework:   FrameworkSOC2,
			Categories:  []audit.Category{audit.CategoryConfig, audit.CategorySystem},
			Actions:     []string{"config_updated", "config_created"},
		},
		{
			ID:          "CC7.2",
			Name:        "Security Monitoring",
			Description: "Anomalous primitive execution (path/command blocks, rate-limit denials) is captured.",
			Framework:   FrameworkSOC2,
			Categories:  []audit.Category{audit.CategorySecurity},
			Actions:     []string{"path_not_allowed", "command_blocked", "rate_limited"},
		},
	} {
		l.controls[c.ID] = c
	}
}

func (l *Library) loadGDPR() {
	for _, c := range []Control{
		{
			ID:          "GDPR-30",
			Name:        "Records of Processing Activities",
			Description: "Data transferred into or out of the sandbox by primitives is logged.",
			Framework:   FrameworkGDPR,
			Categories:  []audit.Category{audit.CategoryDataTransfer},
			Actions:     []string{"data_exported", "data_imported"},
		},
		{
			ID:          "GDPR-32",
			Name:        "Security of Processing",
			Description: "Authentication to the mission control surface is logged, including failures.",
			Framework:   FrameworkGDPR,
			Categories:  []audit.Category{audit.CategoryAuthN, audit.CategorySecurity},
			Actions:     []string{"login", "login_failed"},
		},
	} {
		l.controls[c.ID] = c
	}
}

// Get returns a control by ID.
func (l *Library) Get(id string) (Control, bool) {
	c, ok := l.controls[id]
	return c, ok
}

// ByFramework returns every control registered under a framework.
func (l *Library) ByFramework(f Framework) []Control {
	out := make([]Control, 0)
	for _, c := range l.controls {
		if c.Framework == f {
			out = append(out, c)
		}
	}
	return out
}

// Add registers a custom control, overwriting any existing control with
// the same ID.
func (l *Library) Add(c Control) {
	l.controls[c.ID] = c
}
