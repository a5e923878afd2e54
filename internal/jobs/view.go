package jobs

import (
	"github.com/sshtomar/llm-txt/internal/generator"
)

// View is the wire shape of a job, returned by the API and persisted as
// status.json on every material change.
type View struct {
	JobID           string             `json:"job_id"`
	Status          generator.JobState `json:"status"`
	Progress        float64            `json:"progress"`
	Message         string             `json:"message"`
	CurrentPhase    generator.Phase    `json:"current_phase"`
	CurrentPageURL  *string            `json:"current_page_url"`
	PagesDiscovered int                `json:"pages_discovered"`
	PagesProcessed  int                `json:"pages_processed"`
	PagesCrawled    int                `json:"pages_crawled"`
	ProcessingLogs  []string           `json:"processing_logs"`
	TotalSizeKB     float64            `json:"total_size_kb"`
	LLMTxtURL       *string            `json:"llm_txt_url"`
	LLMSFullTxtURL  *string            `json:"llms_full_txt_url"`
	CreatedAt       float64            `json:"created_at"`
	CompletedAt     *float64           `json:"completed_at"`
	ErrorCode       string             `json:"error_code,omitempty"`
}

func viewOf(job generator.Job, logs []string) View {
	v := View{
		JobID:           job.ID,
		Status:          job.State,
		Progress:        job.Progress.Fraction,
		Message:         job.Progress.Message,
		CurrentPhase:    job.Progress.Phase,
		PagesDiscovered: job.Progress.PagesDiscovered,
		PagesProcessed:  job.Progress.PagesProcessed,
		PagesCrawled:    job.Progress.PagesCrawled,
		ProcessingLogs:  logs,
		TotalSizeKB:     job.TotalSizeKB,
		CreatedAt:       job.CreatedAt,
		CompletedAt:     job.CompletedAt,
		ErrorCode:       job.ErrorCode,
	}
	if job.Progress.CurrentPageURL != "" {
		url := job.Progress.CurrentPageURL
		v.CurrentPageURL = &url
	}
	if job.LLMTxtURL != "" {
		u := job.LLMTxtURL
		v.LLMTxtURL = &u
	}
	if job.LLMSFullTxtURL != "" {
		u := job.LLMSFullTxtURL
		v.LLMSFullTxtURL = &u
	}
	return v
}
