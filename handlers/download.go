package handlers

import (
	"encoding/json"
	"errors"

	"github.com/andesco/hlsladder/pkg/playlist"
	"github.com/andesco/hlsladder/pkg/relay"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

const (
	contentType        = "video/mp4"
	contentDisposition = `attachment; filename="video.mp4"`
)

// Download is a Fiber handler that streams every segment of the request body,
// in order, as one video/mp4 attachment.
//
// The first segment is fetched before the status line is written, so a dead
// playlist gets a 502 instead of an empty 200. Later failures abort the
// chunked body without its terminating chunk.
func Download(r *relay.Relay, logger hclog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req playlist.DownloadRequest
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			logger.Debug("invalid download body", "error", err)
			return c.Status(fiber.StatusBadRequest).SendString("Invalid request body")
		}

		if err := req.Validate(); err != nil {
			return badRequest(c, logger, err)
		}
		if err := r.CheckURLs(req.VideoURLs); err != nil {
			return badRequest(c, logger, err)
		}

		id := uuid.NewString()
		log := logger.With("download_id", id)
		log.Info("starting download", "segments", len(req.VideoURLs), "headers", len(req.ParsedHeaders))

		stream, err := r.WithLogger(log).Open(c.UserContext(), req.VideoURLs, req.ParsedHeaders)
		if err != nil {
			log.Error("first segment failed", "error", err)
			return c.Status(fiber.StatusBadGateway).SendString(err.Error())
		}

		c.Set(fiber.HeaderContentType, contentType)
		c.Set(fiber.HeaderContentDisposition, contentDisposition)
		c.Set("X-Download-Id", id)

		return c.Status(fiber.StatusOK).SendStream(stream)
	}
}

// Extract is a Fiber handler that turns pasted playlist and header text into
// the JSON body expected by Download.
func Extract(logger hclog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var form playlist.FormInput
		if err := json.Unmarshal(c.Body(), &form); err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid request body")
		}

		req, err := form.DownloadRequest()
		if err != nil {
			return badRequest(c, logger, err)
		}

		return c.JSON(req)
	}
}

// Health reports that the server is up.
func Health(version string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": version,
		})
	}
}

func badRequest(c *fiber.Ctx, logger hclog.Logger, err error) error {
	msg := err.Error()
	var verr *playlist.ValidationError
	if errors.As(err, &verr) {
		msg = verr.Message
	}
	logger.Warn("rejected request", "path", c.Path(), "reason", msg)
	return c.Status(fiber.StatusBadRequest).SendString(msg)
}
