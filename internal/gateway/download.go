package gateway

import (
	"archive/zip"
	"bytes"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/models"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/target"
)

// DownloadArtifact godoc
// @Summary Download artifact bundle
// @Description Download the artifact's code bundle as a zip archive
// @Tags artifacts
// @Produce application/zip
// @Param id path string true "Artifact ID"
// @Success 200 {file} binary
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /artifacts/{id}/download [get]
func (h *Handler) DownloadArtifact(c *gin.Context) {
	orch, ok := h.orchestratorFor(c)
	if !ok {
		return
	}

	art, err := orch.Artifact(c.Param("id"))
	if err != nil {
		h.respond(c, orch, err)
		return
	}

	if !h.registry.Has(art.Target, target.CapabilityDownload) {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: fmt.Sprintf("Download is not available for target %q", art.Target),
			Code:  models.ErrCodeInvalidRequest,
		})
		return
	}
	profile, err := h.registry.Lookup(art.Target)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeInvalidRequest})
		return
	}

	var buf bytes.Buffer
	archive := zip.NewWriter(&buf)
	// Declared section order, so archives are reproducible.
	for _, section := range profile.Sections {
		source, ok := art.Bundle[section]
		if !ok {
			continue
		}
		w, err := archive.Create(profile.FileName(section))
		if err != nil {
			log.Printf(`{"level":"error","message":"Failed to build archive","artifact_id":"%s","error":"%v"}`, art.ID, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to build archive", Code: models.ErrCodeInternalError})
			return
		}
		if _, err := w.Write([]byte(source)); err != nil {
			log.Printf(`{"level":"error","message":"Failed to build archive","artifact_id":"%s","error":"%v"}`, art.ID, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to build archive", Code: models.ErrCodeInternalError})
			return
		}
	}
	if err := archive.Close(); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to build archive", Code: models.ErrCodeInternalError})
		return
	}

	filename := archiveName(art.Name)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	c.Data(http.StatusOK, "application/zip", buf.Bytes())
}

// archiveName derives a safe zip file name from the artifact's display name.
func archiveName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, name)
	if cleaned == "" {
		cleaned = "artifact"
	}
	return cleaned + ".zip"
}
