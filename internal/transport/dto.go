package transport

type UploadResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// TaskResponse carries the artifact map when completed, the error string
// when failed, and no result while processing.
type TaskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
}

type StatsResponse struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
