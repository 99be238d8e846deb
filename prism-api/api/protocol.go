package api

const maxBodySize = 64 * 1024 // 64 KiB

// HeaderIdempotencyKey lets clients retry POST /api/tasks safely.
const HeaderIdempotencyKey = "Idempotency-Key"

type createTaskRequest struct {
	Title    string `json:"title"`
	Notes    string `json:"notes"`
	Quadrant string `json:"quadrant"`
	Status   string `json:"status"`
	Order    int    `json:"order"`
}

type quadrantRequest struct {
	Quadrant *string `json:"quadrant"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}
