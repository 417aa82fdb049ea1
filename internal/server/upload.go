package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var allowedExt = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true,
	".jpg": true, ".png": true, ".txt": true, ".xlsx": true,
}

// Uploads 保存附件并按存储名提供下载。附件对消息核心只是一个不透明的引用。
type Uploads struct {
	dir      string
	maxBytes int64
}

func NewUploads(dir string, maxMB int) *Uploads {
	return &Uploads{dir: dir, maxBytes: int64(maxMB) << 20}
}

func (u *Uploads) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, u.maxBytes+1<<20)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	if fh.Size > u.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !allowedExt[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file type not allowed"})
		return
	}
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		log.Error().Err(err).Str("dir", u.dir).Msg("create upload dir")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	stored := uuid.NewString() + ext
	if err := c.SaveUploadedFile(fh, filepath.Join(u.dir, stored)); err != nil {
		log.Error().Err(err).Str("file", stored).Msg("save upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"fileName": filepath.Base(fh.Filename), "filePath": stored, "size": fh.Size})
}

func (u *Uploads) Download(c *gin.Context) {
	name := c.Param("filename")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file name"})
		return
	}
	path := filepath.Join(u.dir, name)
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.FileAttachment(path, name)
}
