package task

// Job is the unit handed to a Scheduler: one staged PDF and the directory
// its artifacts go to.
type Job struct {
	TaskID    string `json:"task_id"`
	PDFPath   string `json:"pdf_path"`
	OutputDir string `json:"output_dir"`
}
