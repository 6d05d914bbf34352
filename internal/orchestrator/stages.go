package orchestrator

import "insightpulse/internal/jobs"

// stageKind determines what work, if any, a stage performs beyond
// reporting progress.
type stageKind int

const (
	// kindReport stages only advance status and progress
	kindReport stageKind = iota
	// kindProcess stages run the file processor against the upload
	kindProcess
	// kindAnalyze stages run the analyzer against the processed dataset
	kindAnalyze
)

// stage is one step of the fixed analysis pipeline
type stage struct {
	Name     string
	Status   jobs.Status
	Progress int
	Message  string
	Kind     stageKind
}

// pipelineStages is the ordered pipeline every job walks through.
// Progress values are cumulative and strictly increasing so clients
// can render a single monotonic bar.
var pipelineStages = []stage{
	{Name: "uploading", Status: jobs.StatusProcessing, Progress: 10, Message: "Receiving dataset"},
	{Name: "encoding_detection", Status: jobs.StatusProcessing, Progress: 20, Message: "Detecting file encoding"},
	{Name: "csv_parsing", Status: jobs.StatusProcessing, Progress: 35, Message: "Parsing CSV data", Kind: kindProcess},
	{Name: "data_quality_analysis", Status: jobs.StatusProcessing, Progress: 50, Message: "Analyzing data quality"},
	{Name: "column_labeling", Status: jobs.StatusProcessing, Progress: 60, Message: "Labeling columns"},
	{Name: "ai_analysis", Status: jobs.StatusAnalyzing, Progress: 80, Message: "Running AI analysis", Kind: kindAnalyze},
	{Name: "sweetviz_report", Status: jobs.StatusAnalyzing, Progress: 90, Message: "Generating data report"},
	{Name: "insights_ready", Status: jobs.StatusAnalyzing, Progress: 100, Message: "Finalizing insights"},
}

// StageNames returns the pipeline stage names in execution order
func StageNames() []string {
	names := make([]string, len(pipelineStages))
	for i, st := range pipelineStages {
		names[i] = st.Name
	}
	return names
}
