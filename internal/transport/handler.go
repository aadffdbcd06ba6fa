package transport

import (
	"context"
	"io"

	"github.com/gofiber/fiber/v2"

	"github.com/mohans/mineru-api/asyncx"
	"github.com/mohans/mineru-api/internal/apperrors"
	"github.com/mohans/mineru-api/internal/task"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, filename string, content io.Reader) (task.Receipt, error)
}

type StatsSource interface {
	Stats(ctx context.Context) (task.Stats, error)
}

type TaskHandler struct {
	dispatcher Dispatcher
	store      asyncx.Store
	stats      StatsSource
}

func NewTaskHandler(d Dispatcher, store asyncx.Store, stats StatsSource) *TaskHandler {
	return &TaskHandler{dispatcher: d, store: store, stats: stats}
}

// POST /upload
func (h *TaskHandler) Upload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return apperrors.New(apperrors.ErrCodeBadRequest, task.ErrNoFile.Error(), err)
	}
	f, err := fh.Open()
	if err != nil {
		return apperrors.New(apperrors.ErrCodeInternal, "failed to read uploaded file", err)
	}
	defer f.Close()

	rc, err := h.dispatcher.Dispatch(c.UserContext(), fh.Filename, f)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusOK).JSON(UploadResponse{TaskID: rc.TaskID, Status: string(rc.Status)})
}

// GET /task/:task_id
func (h *TaskHandler) Get(c *fiber.Ctx) error {
	rec, err := task.Lookup(c.UserContext(), h.store, c.Params("task_id"))
	if err != nil {
		return err
	}

	resp := TaskResponse{TaskID: rec.ID, Status: string(rec.Status)}
	switch rec.Status {
	case asyncx.StatusCompleted:
		resp.Result = rec.Result
	case asyncx.StatusFailed:
		if rec.ErrorMsg != nil {
			resp.Result = *rec.ErrorMsg
		}
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// GET /task/:task_id/artifacts/:kind
func (h *TaskHandler) Artifact(c *fiber.Ctx) error {
	p, err := task.ArtifactPath(c.UserContext(), h.store, c.Params("task_id"), c.Params("kind"))
	if err != nil {
		return err
	}
	return c.SendFile(p)
}

// GET /stats
func (h *TaskHandler) Stats(c *fiber.Ctx) error {
	st, err := h.stats.Stats(c.UserContext())
	if err != nil {
		return apperrors.New(apperrors.ErrCodeInternal, "failed to read stats", err)
	}
	return c.Status(fiber.StatusOK).JSON(StatsResponse{
		Queued:    st.Queued,
		Running:   st.Running,
		Completed: st.Completed,
		Failed:    st.Failed,
	})
}
