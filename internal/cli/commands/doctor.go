package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/cardcalc/internal/cli/output"
	"github.com/leapstack-labs/cardcalc/internal/depgraph"
	"github.com/leapstack-labs/cardcalc/pkg/core"
)

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check stored calculations for problems",
		Long: `Analyze the stored calculations and report problems that would make
batch runs fail or produce surprising results.

The report includes:
- Summary (calculations, entity types, dependency depth)
- Health checks grouped by category (Formulas, Dependencies, Execution)
- Health score (0-100)
- Actionable recommendations`,
		Example: `  # Run health check
  cardcalc doctor

  # Output as JSON
  cardcalc doctor -o json`,
		RunE: runDoctor,
	}
}

// DoctorOutput is the JSON output for the doctor command.
type DoctorOutput struct {
	Summary         HealthSummary `json:"summary"`
	HealthChecks    []HealthCheck `json:"health_checks"`
	Score           int           `json:"score"`
	Recommendations []string      `json:"recommendations"`
	IssueCount      int           `json:"issue_count"`
}

// HealthSummary contains store-level statistics.
type HealthSummary struct {
	Calculations int `json:"calculations"`
	Active       int `json:"active"`
	EntityTypes  int `json:"entity_types"`
	DAGDepth     int `json:"dag_depth"`
	RootCount    int `json:"root_count"`
	LeafCount    int `json:"leaf_count"`
	EdgeCount    int `json:"edge_count"`
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	RuleID     string   `json:"rule_id"`
	Name       string   `json:"name"`
	Group      string   `json:"group"`
	Status     string   `json:"status"` // "pass", "warn", "error"
	IssueCount int      `json:"issue_count"`
	Details    []string `json:"details,omitempty"`
}

// healthRule is one check over the calculation set.
type healthRule struct {
	id       string
	name     string
	group    string
	severity string // "warn" or "error"
	check    func(h *healthInput) []string
}

// healthInput is what every rule sees.
type healthInput struct {
	calcs    []*core.Calculation
	graph    *depgraph.Graph
	entities map[string]int // entity count per type
}

var healthRules = []healthRule{
	{id: "CF01", name: "Formulas parse", group: "formulas", severity: "error", check: checkInvalidFormulas},
	{id: "CD01", name: "No dependency cycles", group: "dependencies", severity: "error", check: checkCycles},
	{id: "CD02", name: "One active calculation per field", group: "dependencies", severity: "error", check: checkDuplicateTargets},
	{id: "CE01", name: "Last run succeeded", group: "execution", severity: "warn", check: checkLastErrors},
	{id: "CE02", name: "Active calculations have run", group: "execution", severity: "warn", check: checkNeverRun},
	{id: "CE03", name: "Target types have entities", group: "execution", severity: "warn", check: checkEmptyTypes},
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cmdCtx, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	r := cmdCtx.Renderer
	store := cmdCtx.Engine.Store()

	calcs, err := store.ListCalculations()
	if err != nil {
		return fmt.Errorf("failed to list calculations: %w", err)
	}
	if len(calcs) == 0 {
		r.Warning("No calculations stored")
		return nil
	}

	graph, err := cmdCtx.Engine.Graph()
	if err != nil {
		return err
	}

	entities := make(map[string]int)
	for _, c := range calcs {
		if _, seen := entities[c.TargetTypeKey]; seen {
			continue
		}
		list, err := store.ListEntitiesByType(c.TargetTypeKey)
		if err != nil {
			return fmt.Errorf("failed to list entities of type %s: %w", c.TargetTypeKey, err)
		}
		entities[c.TargetTypeKey] = len(list)
	}

	out := buildDoctorOutput(&healthInput{calcs: calcs, graph: graph, entities: entities})

	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(out)
	case output.ModeMarkdown:
		renderDoctorMarkdown(r, out)
	default:
		renderDoctorText(r, out)
	}
	return nil
}

func buildDoctorOutput(in *healthInput) *DoctorOutput {
	summary := buildHealthSummary(in)

	checks := make([]HealthCheck, 0, len(healthRules))
	issues := 0
	for _, rule := range healthRules {
		details := rule.check(in)
		status := "pass"
		if len(details) > 0 {
			status = rule.severity
		}
		issues += len(details)
		checks = append(checks, HealthCheck{
			RuleID:     rule.id,
			Name:       rule.name,
			Group:      rule.group,
			Status:     status,
			IssueCount: len(details),
			Details:    details,
		})
	}

	sort.SliceStable(checks, func(i, j int) bool {
		if checks[i].Group != checks[j].Group {
			return checks[i].Group < checks[j].Group
		}
		return checks[i].RuleID < checks[j].RuleID
	})

	return &DoctorOutput{
		Summary:         summary,
		HealthChecks:    checks,
		Score:           calculateHealthScore(checks, summary.Calculations),
		Recommendations: generateRecommendations(checks),
		IssueCount:      issues,
	}
}

func buildHealthSummary(in *healthInput) HealthSummary {
	summary := HealthSummary{
		Calculations: len(in.calcs),
		EntityTypes:  len(in.entities),
	}
	for _, c := range in.calcs {
		if c.IsActive {
			summary.Active++
		}
	}

	if in.graph != nil {
		summary.EdgeCount = in.graph.EdgeCount()
		if levels, err := in.graph.Levels(); err == nil && len(levels) > 0 {
			summary.DAGDepth = len(levels)
			summary.RootCount = len(levels[0])
			summary.LeafCount = len(levels[len(levels)-1])
		}
	}
	return summary
}

func checkInvalidFormulas(in *healthInput) []string {
	if in.graph == nil {
		return nil
	}
	details := make([]string, 0, len(in.graph.Invalid))
	for _, id := range in.graph.Invalid {
		if c, ok := in.graph.Get(id); ok {
			details = append(details, fmt.Sprintf("%s (%s) does not parse", c.DisplayName(), c.ID))
		}
	}
	return details
}

func checkCycles(in *healthInput) []string {
	if in.graph == nil {
		return nil
	}
	if cycle := in.graph.Cycle(); cycle != nil {
		return []string{strings.Join(cycle, " -> ")}
	}
	return nil
}

func checkDuplicateTargets(in *healthInput) []string {
	byTarget := make(map[string][]string)
	var targets []string
	for _, c := range in.calcs {
		if !c.IsActive {
			continue
		}
		key := c.TargetTypeKey + "." + c.TargetFieldKey
		if _, ok := byTarget[key]; !ok {
			targets = append(targets, key)
		}
		byTarget[key] = append(byTarget[key], c.DisplayName())
	}

	var details []string
	for _, key := range targets {
		if names := byTarget[key]; len(names) > 1 {
			details = append(details, fmt.Sprintf("%s is written by %s", key, strings.Join(names, ", ")))
		}
	}
	return details
}

func checkLastErrors(in *healthInput) []string {
	var details []string
	for _, c := range in.calcs {
		if c.LastError != nil {
			details = append(details, fmt.Sprintf("%s: %s", c.DisplayName(), *c.LastError))
		}
	}
	return details
}

func checkNeverRun(in *healthInput) []string {
	var details []string
	for _, c := range in.calcs {
		if c.IsActive && c.LastRunAt == nil {
			details = append(details, c.DisplayName()+" has not run yet")
		}
	}
	return details
}

func checkEmptyTypes(in *healthInput) []string {
	types := make([]string, 0, len(in.entities))
	for typeKey, n := range in.entities {
		if n == 0 {
			types = append(types, typeKey)
		}
	}
	sort.Strings(types)

	details := make([]string, 0, len(types))
	for _, typeKey := range types {
		details = append(details, fmt.Sprintf("no %s entities to calculate", typeKey))
	}
	return details
}

// calculateHealthScore computes a health score from 0-100. Errors weigh
// twice as much as warnings; larger calculation sets dilute each issue.
func calculateHealthScore(checks []HealthCheck, calcCount int) int {
	if len(checks) == 0 {
		return 100
	}

	score := 100.0
	basePenalty := 5.0
	switch {
	case calcCount > 100:
		basePenalty = 1.0
	case calcCount > 50:
		basePenalty = 2.0
	case calcCount > 10:
		basePenalty = 3.0
	}

	for _, check := range checks {
		switch check.Status {
		case "error":
			score -= float64(check.IssueCount) * basePenalty * 2
		case "warn":
			score -= float64(check.IssueCount) * basePenalty
		}
	}

	return int(max(0, min(100, score)))
}

// generateRecommendations returns one recommendation per failing rule, at
// most five.
func generateRecommendations(checks []HealthCheck) []string {
	var recommendations []string
	seen := make(map[string]bool)

	for _, check := range checks {
		if check.IssueCount == 0 {
			continue
		}
		rec := getRecommendation(check.RuleID)
		if rec != "" && !seen[rec] {
			recommendations = append(recommendations, rec)
			seen[rec] = true
		}
	}

	if len(recommendations) > 5 {
		recommendations = recommendations[:5]
	}
	return recommendations
}

func getRecommendation(ruleID string) string {
	switch ruleID {
	case "CF01":
		return "Fix formulas that do not parse with 'cardcalc validate'"
	case "CD01":
		return "Break dependency cycles by deactivating or rewriting one calculation in each cycle"
	case "CD02":
		return "Deactivate all but one calculation per target field"
	case "CE01":
		return "Inspect failing calculations with 'cardcalc calc show' and 'cardcalc preview'"
	case "CE02":
		return "Run pending calculations with 'cardcalc run --all'"
	case "CE03":
		return "Load entities for the target types or delete unused calculations"
	default:
		return ""
	}
}

func renderDoctorText(r *output.Renderer, out *DoctorOutput) {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header.Render("Calculation Health Report"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Println("")

	r.Println(styles.Subheader.Render("Summary"))
	r.Printf("   Calculations: %d (%d active) | Entity types: %d\n", out.Summary.Calculations, out.Summary.Active, out.Summary.EntityTypes)
	r.Printf("   DAG Depth: %d levels | Roots: %d | Leaves: %d\n", out.Summary.DAGDepth, out.Summary.RootCount, out.Summary.LeafCount)
	r.Println("")

	r.Println(styles.Subheader.Render("Health Checks"))
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println(styles.Bold.Render("   " + titleCaser.String(currentGroup)))
			r.Println(styles.Muted.Render("   " + strings.Repeat("-", 40)))
		}

		icon := styles.Success.Render(output.SymbolSuccess)
		switch check.Status {
		case "warn":
			icon = styles.Warning.Render(output.SymbolWarning)
		case "error":
			icon = styles.Error.Render(output.SymbolError)
		}

		status := fmt.Sprintf("%s %s: %s", icon, check.RuleID, check.Name)
		if check.IssueCount > 0 {
			status += fmt.Sprintf(" (%d issues)", check.IssueCount)
		}
		r.Println("   " + status)

		for i, detail := range check.Details {
			if i >= 3 {
				r.Println(styles.Muted.Render(fmt.Sprintf("       ... and %d more", len(check.Details)-3)))
				break
			}
			r.Println(styles.Muted.Render("       - " + detail))
		}
	}
	r.Println("")

	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	scoreStyle := styles.Success
	if out.Score < 70 {
		scoreStyle = styles.Warning
	}
	if out.Score < 50 {
		scoreStyle = styles.Error
	}
	r.Printf("   Health Score: %s\n", scoreStyle.Render(fmt.Sprintf("%d/100", out.Score)))
	r.Println("")

	if len(out.Recommendations) > 0 {
		r.Println(styles.Subheader.Render("Recommendations"))
		for i, rec := range out.Recommendations {
			r.Printf("   %d. %s\n", i+1, rec)
		}
		r.Println("")
	}
}

func renderDoctorMarkdown(r *output.Renderer, out *DoctorOutput) {
	r.Println("# Calculation Health Report")
	r.Println("")

	r.Println("## Summary")
	r.Println("")
	r.Printf("- **Calculations**: %d\n", out.Summary.Calculations)
	r.Printf("- **Active**: %d\n", out.Summary.Active)
	r.Printf("- **Entity Types**: %d\n", out.Summary.EntityTypes)
	r.Printf("- **DAG Depth**: %d levels\n", out.Summary.DAGDepth)
	r.Printf("- **Edges**: %d\n", out.Summary.EdgeCount)
	r.Println("")

	r.Println("## Health Checks")
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.HealthChecks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println("### " + titleCaser.String(currentGroup))
			r.Println("")
		}

		r.Printf("- **[%s]** %s: %s", strings.ToUpper(check.Status), check.RuleID, check.Name)
		if check.IssueCount > 0 {
			r.Printf(" (%d issues)", check.IssueCount)
		}
		r.Println("")
		for _, detail := range check.Details {
			r.Printf("  - %s\n", detail)
		}
	}
	r.Println("")

	r.Println("## Health Score")
	r.Println("")
	r.Printf("**%d/100**\n", out.Score)
	r.Println("")

	if len(out.Recommendations) > 0 {
		r.Println("## Recommendations")
		r.Println("")
		for i, rec := range out.Recommendations {
			r.Printf("%d. %s\n", i+1, rec)
		}
		r.Println("")
	}
}
