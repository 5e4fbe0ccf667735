package engine

import (
	"fmt"
	"mime"
	"path"

	"github.com/gofiber/fiber/v2"
)

// payloadFormKey is the multipart part that may carry the document fields as JSON.
const payloadFormKey = "_payload"

// upload handles multipart POST /api/:collection for upload collections.
func (h *Handler) upload(c *fiber.Ctx) error {
	slug := c.Params("collection")
	file, err := c.FormFile("file")
	if err != nil {
		return InvalidPayloadError("Missing file in form data")
	}
	if err := h.svc.Validator().CheckUploadSize(file.Size); err != nil {
		return err
	}

	input := map[string]any{}
	if form, err := c.MultipartForm(); err == nil {
		for key, values := range form.Value {
			if key == payloadFormKey || len(values) == 0 {
				continue
			}
			input[key] = values[0]
		}
		if raw := form.Value[payloadFormKey]; len(raw) > 0 {
			if err := json.Unmarshal([]byte(raw[0]), &input); err != nil {
				return InvalidPayloadError(fmt.Sprintf("%s must be a JSON object", payloadFormKey))
			}
		}
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	mimeType := file.Header.Get(fiber.HeaderContentType)
	if mimeType == "" {
		mimeType = mime.TypeByExtension(path.Ext(file.Filename))
	}
	if mimeType == "" {
		mimeType = fiber.MIMEOctetStream
	}

	doc, err := h.svc.Upload(c.UserContext(), IdentityFrom(c), slug, File{
		Name:     file.Filename,
		MimeType: mimeType,
		Size:     file.Size,
		Content:  src,
	}, input)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Document created", "doc": doc})
}

// ServeFile handles GET /api/:collection/file/*
func (h *Handler) ServeFile(c *fiber.Ctx) error {
	key := c.Params("*")
	rc, doc, err := h.svc.OpenFile(c.UserContext(), IdentityFrom(c), c.Params("collection"), key)
	if err != nil {
		return err
	}
	if mimeType, _ := doc[FileMimeField].(string); mimeType != "" {
		c.Set(fiber.HeaderContentType, mimeType)
	}
	if name, _ := doc[FileNameField].(string); name != "" {
		c.Set(fiber.HeaderContentDisposition, mime.FormatMediaType("inline", map[string]string{"filename": name}))
	}
	// fasthttp closes the stream once it has been written out
	return c.SendStream(rc)
}
