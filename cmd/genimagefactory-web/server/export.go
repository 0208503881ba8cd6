package server

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ascensum/genimagefactory/internal/model"
)

// exportZip streams every approved, on-disk image belonging to an
// execution as a single archive, named after its mapping id so a batch
// upload tool downstream can match files back to catalog rows.
func (h *handlers) exportZip(c *gin.Context) {
	execID, err := pathInt64(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	images, err := h.adapter.ImageGetByExecution(c.Request.Context(), execID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="execution-%d-images.zip"`, execID))

	zw := zip.NewWriter(c.Writer)
	defer zw.Close()

	for _, img := range images {
		if img.QCStatus != model.QCApproved || img.FinalPath == nil || *img.FinalPath == "" {
			continue
		}
		if err := addFileToZip(zw, *img.FinalPath, img.MappingID); err != nil {
			h.logger.Warn("export zip: skipping image", "image_id", img.ID, "error", err)
		}
	}
}

func addFileToZip(zw *zip.Writer, path, mappingID string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := mappingID + filepath.Ext(path)
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// exportCSV is the spreadsheet-compatible listing-metadata export: one row
// per approved image, title/description/tags ready to paste into whatever
// marketplace bulk-upload sheet the user's storefront expects.
func (h *handlers) exportCSV(c *gin.Context) {
	execID, err := pathInt64(c, "id")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	images, err := h.adapter.ImageGetByExecution(c.Request.Context(), execID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="execution-%d-metadata.csv"`, execID))

	w := csv.NewWriter(c.Writer)
	defer w.Flush()

	w.Write([]string{"mapping_id", "filename", "title", "description", "tags"})
	for _, img := range images {
		if img.QCStatus != model.QCApproved {
			continue
		}
		var filename, title, description, tags string
		if img.FinalPath != nil {
			filename = filepath.Base(*img.FinalPath)
		}
		if img.Metadata != nil {
			title = img.Metadata.Title
			description = img.Metadata.Description
			tags = strings.Join(img.Metadata.Tags, ";")
		}
		w.Write([]string{img.MappingID, filename, title, description, tags})
	}
}
