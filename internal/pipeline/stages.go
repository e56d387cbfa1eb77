package pipeline

// StageConfig names one pipeline stage and the progress percentage a
// job reports once that stage has completed. The orchestrator is data
// driven over the ordered stage list; completing the final stage always
// yields progress 100.
type StageConfig struct {
	Name     string
	Progress int
}

// DefaultStages is the standard analysis sequence.
var DefaultStages = []StageConfig{
	{Name: "fetch_source", Progress: 15},
	{Name: "secret_scan", Progress: 40},
	{Name: "dependency_audit", Progress: 65},
	{Name: "ai_review", Progress: 90},
}
