package capabilities

// DefaultHighRiskTools are the tools that always need human approval when
// run by an unattended execution, whether or not a registered capability
// flags itself high-risk.
var DefaultHighRiskTools = []string{
	"send_gmail",
	"create_drive_file",
	"update_spreadsheet_values",
	"append_spreadsheet_values",
	"create_spreadsheet",
	"create_github_issue",
}

// HighRiskSet merges DefaultHighRiskTools with the registry's own flagged
// capabilities. reg may be nil.
func HighRiskSet(reg *Registry) map[string]struct{} {
	set := make(map[string]struct{}, len(DefaultHighRiskTools))
	for _, name := range DefaultHighRiskTools {
		set[name] = struct{}{}
	}
	if reg != nil {
		for _, name := range reg.HighRisk() {
			set[name] = struct{}{}
		}
	}
	return set
}
