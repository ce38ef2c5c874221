package controller

import (
	"errors"
	"path/filepath"
	"strings"

	"atendigram/middleware"
	"atendigram/storage"
	"atendigram/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type UploadController struct {
	Storage     storage.Storage
	MaxUploadMB int
	Logger      *logrus.Logger
}

func NewUploadController(store storage.Storage, maxUploadMB int, logger *logrus.Logger) *UploadController {
	return &UploadController{
		Storage:     store,
		MaxUploadMB: maxUploadMB,
		Logger:      logger,
	}
}

// Upload stores a multipart "file" under {bucket}/{account}/{uuid}{ext} and returns its public URL
func (uc *UploadController) Upload(c *fiber.Ctx) error {
	bucket := c.Params("bucket")
	if !storage.Buckets[bucket] {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Unknown bucket", nil)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File upload error", err)
	}
	if uc.MaxUploadMB > 0 && file.Size > int64(uc.MaxUploadMB)<<20 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File too large", nil)
	}

	src, err := file.Open()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to open file", err)
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(file.Filename))
	objectPath := bucket + "/" + middleware.AccountID(c) + "/" + uuid.NewString() + ext

	url, err := uc.Storage.Upload(c.UserContext(), objectPath, src)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidPath) {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid file name", err)
		}
		utils.LogError("upload_failed", err, map[string]interface{}{"bucket": bucket})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to store file", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(fiber.Map{
		"url":  url,
		"path": objectPath,
		"size": file.Size,
	}))
}
