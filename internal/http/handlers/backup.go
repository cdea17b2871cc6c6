package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/compressarr/internal/service"
	"github.com/jmylchreest/compressarr/pkg/format"
)

// maxUploadSize bounds multipart backup uploads (100 MB).
const maxUploadSize = 100 << 20

// BackupHandler handles backup API endpoints.
type BackupHandler struct {
	backupService *service.BackupService
}

// NewBackupHandler creates a new backup handler.
func NewBackupHandler(backupService *service.BackupService) *BackupHandler {
	return &BackupHandler{
		backupService: backupService,
	}
}

// Register registers the backup routes with the API. Restore is deliberately
// not exposed over HTTP; swapping the live database file out from under the
// pool is only safe from the CLI while the server is stopped.
func (h *BackupHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listBackups",
		Method:      "GET",
		Path:        "/api/backups",
		Summary:     "List backups",
		Description: "Returns all backup archives, newest first",
		Tags:        []string{"Backups"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "createBackup",
		Method:      "POST",
		Path:        "/api/backups",
		Summary:     "Create backup",
		Description: "Creates a compressed snapshot of the database",
		Tags:        []string{"Backups"},
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "getBackupSchedule",
		Method:      "GET",
		Path:        "/api/backups/schedule",
		Summary:     "Get backup schedule",
		Description: "Returns the scheduled backup configuration",
		Tags:        []string{"Backups"},
	}, h.GetSchedule)

	huma.Register(api, huma.Operation{
		OperationID: "cleanupBackups",
		Method:      "POST",
		Path:        "/api/backups/cleanup",
		Summary:     "Clean up old backups",
		Description: "Deletes backups beyond the configured retention count",
		Tags:        []string{"Backups"},
	}, h.Cleanup)

	huma.Register(api, huma.Operation{
		OperationID: "getBackup",
		Method:      "GET",
		Path:        "/api/backups/{filename}",
		Summary:     "Get backup",
		Description: "Returns metadata for one backup archive",
		Tags:        []string{"Backups"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "deleteBackup",
		Method:      "DELETE",
		Path:        "/api/backups/{filename}",
		Summary:     "Delete backup",
		Description: "Deletes a backup archive and its metadata",
		Tags:        []string{"Backups"},
	}, h.Delete)
}

// RegisterChiRoutes registers the streaming backup routes directly on the
// router. Multipart upload and file download do not fit huma's typed model.
func (h *BackupHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/api/backups/{filename}/download", h.DownloadBackup)
	r.Post("/api/backups/upload", h.UploadBackup)
}

// ListBackupsInput is the input for listing backups.
type ListBackupsInput struct{}

// ListBackupsOutput is the output for listing backups.
type ListBackupsOutput struct {
	Body struct {
		Backups []BackupResponse `json:"backups"`
	}
}

// List returns all backup archives.
func (h *BackupHandler) List(ctx context.Context, input *ListBackupsInput) (*ListBackupsOutput, error) {
	backups, err := h.backupService.ListBackups(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list backups", err)
	}

	resp := &ListBackupsOutput{}
	resp.Body.Backups = make([]BackupResponse, 0, len(backups))
	for _, b := range backups {
		resp.Body.Backups = append(resp.Body.Backups, BackupFromModel(b))
	}

	return resp, nil
}

// CreateBackupInput is the input for creating a backup.
type CreateBackupInput struct{}

// CreateBackupOutput is the output for creating a backup.
type CreateBackupOutput struct {
	Body BackupResponse
}

// Create creates a new database backup.
func (h *BackupHandler) Create(ctx context.Context, input *CreateBackupInput) (*CreateBackupOutput, error) {
	meta, err := h.backupService.CreateBackup(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to create backup", err)
	}

	return &CreateBackupOutput{
		Body: BackupFromModel(meta),
	}, nil
}

// GetBackupScheduleInput is the input for getting the backup schedule.
type GetBackupScheduleInput struct{}

// GetBackupScheduleOutput is the output for getting the backup schedule.
type GetBackupScheduleOutput struct {
	Body BackupScheduleResponse
}

// GetSchedule returns the scheduled backup configuration.
func (h *BackupHandler) GetSchedule(ctx context.Context, input *GetBackupScheduleInput) (*GetBackupScheduleOutput, error) {
	info := h.backupService.GetScheduleInfo()

	resp := BackupScheduleResponse{
		Enabled:   info.Enabled,
		Cron:      info.Cron,
		Retention: info.Retention,
		Directory: h.backupService.GetBackupDirectory(),
	}
	if info.Cron != "" {
		resp.Description = format.CronDescription(info.Cron)
	}
	return &GetBackupScheduleOutput{Body: resp}, nil
}

// CleanupBackupsInput is the input for cleaning up old backups.
type CleanupBackupsInput struct{}

// CleanupBackupsOutput is the output for cleaning up old backups.
type CleanupBackupsOutput struct {
	Body struct {
		Deleted int `json:"deleted" doc:"Number of backups removed"`
	}
}

// Cleanup deletes backups beyond the configured retention count.
func (h *BackupHandler) Cleanup(ctx context.Context, input *CleanupBackupsInput) (*CleanupBackupsOutput, error) {
	deleted, err := h.backupService.CleanupOldBackups(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to clean up backups", err)
	}

	resp := &CleanupBackupsOutput{}
	resp.Body.Deleted = deleted
	return resp, nil
}

// GetBackupInput is the input for getting one backup.
type GetBackupInput struct {
	Filename string `path:"filename" doc:"Backup archive filename"`
}

// GetBackupOutput is the output for getting one backup.
type GetBackupOutput struct {
	Body BackupResponse
}

// Get returns metadata for one backup archive.
func (h *BackupHandler) Get(ctx context.Context, input *GetBackupInput) (*GetBackupOutput, error) {
	meta, err := h.backupService.GetBackup(ctx, input.Filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, huma.Error404NotFound(fmt.Sprintf("backup %s not found", input.Filename))
		}
		return nil, huma.Error400BadRequest("invalid backup filename", err)
	}

	return &GetBackupOutput{
		Body: BackupFromModel(meta),
	}, nil
}

// DeleteBackupInput is the input for deleting a backup.
type DeleteBackupInput struct {
	Filename string `path:"filename" doc:"Backup archive filename"`
}

// DeleteBackupOutput is the output for deleting a backup.
type DeleteBackupOutput struct{}

// Delete removes a backup archive and its metadata.
func (h *BackupHandler) Delete(ctx context.Context, input *DeleteBackupInput) (*DeleteBackupOutput, error) {
	if err := h.backupService.DeleteBackup(ctx, input.Filename); err != nil {
		return nil, huma.Error400BadRequest("failed to delete backup", err)
	}

	return &DeleteBackupOutput{}, nil
}

// DownloadBackup streams a backup archive to the client.
func (h *BackupHandler) DownloadBackup(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")

	f, err := h.backupService.OpenBackupFile(r.Context(), filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSONError(w, http.StatusNotFound, fmt.Sprintf("backup %s not found", filename))
			return
		}
		writeJSONError(w, http.StatusBadRequest, "invalid backup filename")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to stat backup file")
		return
	}

	w.Header().Set("Content-Type", archiveContentType(filename))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", info.Size()))

	if _, err := io.Copy(w, f); err != nil {
		// Headers are gone; nothing left to do but note the broken transfer.
		return
	}
}

// UploadBackup imports a backup archive uploaded as multipart form data under
// the "file" field.
func (h *BackupHandler) UploadBackup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	meta, err := h.backupService.ImportBackup(r.Context(), file, header.Filename)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(BackupFromModel(meta))
}

// archiveContentType maps a backup filename to its MIME type.
func archiveContentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".gz"):
		return "application/gzip"
	case strings.HasSuffix(filename, ".bz2"):
		return "application/x-bzip2"
	case strings.HasSuffix(filename, ".xz"):
		return "application/x-xz"
	default:
		return "application/octet-stream"
	}
}

// writeJSONError writes a JSON error body with the given status code.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
