// Package rpcserver exposes the Application-Manager Actor and Download
// Engine over JSON-RPC 2.0, grounded on warpdl's internal/server
// rpc_methods.go handler.Map/jhttp.Bridge wiring: one handler.Map keyed
// by method name, each entry a func(context.Context, *Params) (*Result,
// error), mounted as a single HTTP handler behind the bearer-token
// middleware.
package rpcserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/appmanager"
	"github.com/dupdatesystem/getter-go/internal/cache"
	"github.com/dupdatesystem/getter-go/internal/cloudsync"
	"github.com/dupdatesystem/getter-go/internal/download"
	"github.com/dupdatesystem/getter-go/internal/httputil"
	"github.com/dupdatesystem/getter-go/internal/provider"
	"github.com/dupdatesystem/getter-go/internal/statustracker"
)

// Server bridges the RPC method table onto the manager, download engine,
// and task history store.
type Server struct {
	apps      *appmanager.Manager
	downloads *download.Manager
	history   *download.History
	http      *httputil.Client
	cache     *cache.Manager
	bridge    jhttp.Bridge

	dataPath  string
	cachePath string

	shuttingDown atomic.Bool
	onShutdown   func()
}

// New builds a Server wired to the given application manager, download
// manager, task history store, and cache (used to memoize get_cloud_config
// fetches under the "upstream-response" group). dataPath/cachePath are
// the directories this daemon was started with, used only to validate
// the init call's params against what is already configured. onShutdown
// is invoked once when the shutdown method is called; pass the host's
// cancel/stop func.
func New(apps *appmanager.Manager, downloads *download.Manager, history *download.History, cacheManager *cache.Manager, dataPath, cachePath string, onShutdown func()) *Server {
	s := &Server{
		apps:       apps,
		downloads:  downloads,
		history:    history,
		http:       httputil.New(30 * time.Second),
		cache:      cacheManager,
		dataPath:   dataPath,
		cachePath:  cachePath,
		onShutdown: onShutdown,
	}

	methods := handler.Map{
		"init":                 handler.New(s.init),
		"ping":                 handler.New(s.ping),
		"add_app":              handler.New(s.addApp),
		"remove_app":           handler.New(s.removeApp),
		"list_apps":            handler.New(s.listApps),
		"check_app_available":  handler.New(s.checkAppAvailable),
		"get_latest_release":   handler.New(s.getLatestRelease),
		"get_releases":         handler.New(s.getReleases),
		"get_cloud_config":     handler.New(s.getCloudConfig),
		"shutdown":             handler.New(s.shutdown),
		"submit_download":      handler.New(s.submitDownload),
		"get_task":             handler.New(s.getTask),
		"pause_task":           handler.New(s.pauseTask),
		"resume_task":          handler.New(s.resumeTask),
		"cancel_task":          handler.New(s.cancelTask),
		"wait_for_change":      handler.New(s.waitForChange),
		"get_task_history":     handler.New(s.getTaskHistory),
		"get_status":           handler.New(s.getStatus),
		"get_all_statuses":     handler.New(s.getAllStatuses),
		"update_app":           handler.New(s.updateApp),
		"set_app_star":         handler.New(s.setAppStar),
		"get_starred_apps":     handler.New(s.getStarredApps),
		"set_ignored_version":  handler.New(s.setIgnoredVersion),
		"get_outdated_apps":    handler.New(s.getOutdatedApps),
	}

	s.bridge = jhttp.NewBridge(methods, nil)
	return s
}

// ServeHTTP lets Server mount directly as a chi route handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.bridge.ServeHTTP(w, r)
}

// Close releases the bridge's internal goroutines. Call on daemon shutdown.
func (s *Server) Close() error {
	return s.bridge.Close()
}

// ShuttingDown reports whether the shutdown method has been invoked, so
// the host loop can stop accepting new connections and exit.
func (s *Server) ShuttingDown() bool {
	return s.shuttingDown.Load()
}

// rpcError maps an apperror.Kind to the -32000 range per the taxonomy,
// carrying the original error text as the error's Message.
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	kind := apperror.KindOf(err)
	return &jrpc2.Error{
		Code:    jrpc2.Code(-32000 - int(kind) - 1),
		Message: err.Error(),
	}
}

func invalidParams(msg string) error {
	return &jrpc2.Error{Code: jrpc2.Code(-32602), Message: msg}
}

type emptyResult struct{}

// --- original method table -------------------------------------------------

type initParams struct {
	DataPath         string `json:"data_path"`
	CachePath        string `json:"cache_path"`
	GlobalExpireTime int64  `json:"global_expire_time"`
}

// init validates the caller's paths against the daemon's own bootstrap
// configuration. This daemon initializes its directories from CLI flags
// at process start rather than via RPC, so init is an idempotent
// acknowledgment rather than a reconfiguration trigger.
func (s *Server) init(_ context.Context, p *initParams) (bool, error) {
	if p.DataPath != "" && p.DataPath != s.dataPath {
		return false, invalidParams("data_path does not match the daemon's configured data directory")
	}
	if p.CachePath != "" && p.CachePath != s.cachePath {
		return false, invalidParams("cache_path does not match the daemon's configured cache directory")
	}
	return true, nil
}

func (s *Server) ping(_ context.Context) (string, error) {
	return "pong", nil
}

type addAppParams struct {
	AppID   string             `json:"app_id"`
	HubUUID string             `json:"hub_uuid"`
	AppData provider.DataMap   `json:"app_data"`
	HubData provider.DataMap   `json:"hub_data"`
}

type addAppResult struct {
	Message string `json:"message"`
}

func (s *Server) addApp(ctx context.Context, p *addAppParams) (*addAppResult, error) {
	if p.AppID == "" || p.HubUUID == "" {
		return nil, invalidParams("app_id and hub_uuid are required")
	}
	identifier := p.AppID + "::" + p.HubUUID
	if err := s.apps.AddApp(ctx, identifier, p.AppData, p.HubData); err != nil {
		return nil, rpcError(err)
	}
	return &addAppResult{Message: "added " + identifier}, nil
}

type removeAppParams struct {
	// AppID carries the full app_id::hub_id identifier, matching the
	// strings list_apps returns.
	AppID string `json:"app_id"`
}

type removeAppResult struct {
	Removed bool `json:"removed"`
}

func (s *Server) removeApp(ctx context.Context, p *removeAppParams) (*removeAppResult, error) {
	if p.AppID == "" {
		return nil, invalidParams("app_id is required")
	}
	removed, err := s.apps.RemoveApp(ctx, p.AppID)
	if err != nil {
		return nil, rpcError(err)
	}
	return &removeAppResult{Removed: removed}, nil
}

func (s *Server) listApps(ctx context.Context) ([]string, error) {
	ids, err := s.apps.ListApps(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	return ids, nil
}

// hubQueryParams is the dispatch params for Check/Latest/Releases: either
// Identifier names an already-tracked app to resolve through the
// configuration registry (the high-level form), or HubUUID/AppData/HubData
// are supplied directly (the low-level form). Identifier takes priority
// when both are present.
type hubQueryParams struct {
	Identifier string           `json:"identifier,omitempty"`
	HubUUID    string           `json:"hub_uuid,omitempty"`
	AppData    provider.DataMap `json:"app_data,omitempty"`
	HubData    provider.DataMap `json:"hub_data,omitempty"`
}

func (s *Server) checkAppAvailable(ctx context.Context, p *hubQueryParams) (bool, error) {
	if p.Identifier != "" {
		ok, err := s.apps.CheckAppAvailableByIdentifier(ctx, p.Identifier)
		if err != nil {
			return false, rpcError(err)
		}
		return ok, nil
	}
	ok, err := s.apps.CheckAppAvailable(ctx, p.HubUUID, p.AppData, p.HubData)
	if err != nil {
		return false, rpcError(err)
	}
	return ok, nil
}

func (s *Server) getLatestRelease(ctx context.Context, p *hubQueryParams) (*provider.ReleaseData, error) {
	if p.Identifier != "" {
		release, err := s.apps.GetLatestReleaseByIdentifier(ctx, p.Identifier)
		if err != nil {
			return nil, rpcError(err)
		}
		return &release, nil
	}
	release, err := s.apps.GetLatestRelease(ctx, p.HubUUID, p.AppData, p.HubData)
	if err != nil {
		return nil, rpcError(err)
	}
	return &release, nil
}

func (s *Server) getReleases(ctx context.Context, p *hubQueryParams) ([]provider.ReleaseData, error) {
	if p.Identifier != "" {
		releases, err := s.apps.GetReleasesByIdentifier(ctx, p.Identifier)
		if err != nil {
			return nil, rpcError(err)
		}
		return releases, nil
	}
	releases, err := s.apps.GetReleases(ctx, p.HubUUID, p.AppData, p.HubData)
	if err != nil {
		return nil, rpcError(err)
	}
	return releases, nil
}

type getCloudConfigParams struct {
	APIURL string `json:"api_url"`
}

func (s *Server) getCloudConfig(ctx context.Context, p *getCloudConfigParams) (*cloudsync.CloudConfig, error) {
	if p.APIURL == "" {
		return nil, invalidParams("api_url is required")
	}

	if s.cache != nil {
		if raw, ok := s.cache.Get(cache.GroupUpstreamResponse, p.APIURL, 0); ok {
			var cached cloudsync.CloudConfig
			if err := json.Unmarshal(raw, &cached); err == nil {
				return &cached, nil
			}
		}
	}

	syncer := cloudsync.New(s.http, p.APIURL)
	cfg, err := syncer.FetchCloudConfig(ctx)
	if err != nil {
		return nil, rpcError(err)
	}

	if s.cache != nil {
		if raw, err := json.Marshal(cfg); err == nil {
			_ = s.cache.Save(cache.GroupUpstreamResponse, p.APIURL, raw)
		}
	}
	return &cfg, nil
}

func (s *Server) shutdown(_ context.Context) (*emptyResult, error) {
	s.shuttingDown.Store(true)
	if s.onShutdown != nil {
		s.onShutdown()
	}
	return &emptyResult{}, nil
}

// --- expansion: download engine + task history ------------------------------

type submitDownloadParams struct {
	URL      string            `json:"url"`
	DestPath string            `json:"dest_path"`
	Headers  map[string]string `json:"headers,omitempty"`
	Cookies  map[string]string `json:"cookies,omitempty"`
}

type submitDownloadResult struct {
	TaskID string `json:"task_id"`
}

func (s *Server) submitDownload(_ context.Context, p *submitDownloadParams) (*submitDownloadResult, error) {
	if p.URL == "" || p.DestPath == "" {
		return nil, invalidParams("url and dest_path are required")
	}
	taskID := s.downloads.Submit(p.URL, p.DestPath, download.Options{Headers: p.Headers, Cookies: p.Cookies})
	return &submitDownloadResult{TaskID: taskID}, nil
}

type taskIDParams struct {
	TaskID string `json:"task_id"`
}

// taskResult is the JSON-RPC wire shape for a download.TaskInfo snapshot.
type taskResult struct {
	TaskID       string          `json:"task_id"`
	URL          string          `json:"url"`
	DestPath     string          `json:"dest_path"`
	State        string          `json:"state"`
	Progress     progressResult  `json:"progress"`
	ResumeOffset int64           `json:"resume_offset"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    int64           `json:"created_at"`
	StartedAt    *int64          `json:"started_at,omitempty"`
	CompletedAt  *int64          `json:"completed_at,omitempty"`
	PausedAt     *int64          `json:"paused_at,omitempty"`
}

type progressResult struct {
	DownloadedBytes  int64  `json:"downloaded_bytes"`
	TotalBytes       *int64 `json:"total_bytes,omitempty"`
	SpeedBytesPerSec *int64 `json:"speed_bytes_per_sec,omitempty"`
	ETASeconds       *int64 `json:"eta_seconds,omitempty"`
}

func toTaskResult(info download.TaskInfo) *taskResult {
	r := &taskResult{
		TaskID:       info.TaskID,
		URL:          info.URL,
		DestPath:     info.DestPath,
		State:        info.State.String(),
		ResumeOffset: info.ResumeOffset,
		Error:        info.Error,
		CreatedAt:    info.CreatedAt.Unix(),
		Progress: progressResult{
			DownloadedBytes:  info.Progress.DownloadedBytes,
			TotalBytes:       info.Progress.TotalBytes,
			SpeedBytesPerSec: info.Progress.SpeedBytesPerSec,
			ETASeconds:       info.Progress.ETASeconds,
		},
	}
	if info.StartedAt != nil {
		v := info.StartedAt.Unix()
		r.StartedAt = &v
	}
	if info.CompletedAt != nil {
		v := info.CompletedAt.Unix()
		r.CompletedAt = &v
	}
	if info.PausedAt != nil {
		v := info.PausedAt.Unix()
		r.PausedAt = &v
	}
	return r
}

func (s *Server) getTask(_ context.Context, p *taskIDParams) (*taskResult, error) {
	info, err := s.downloads.Get(p.TaskID)
	if err != nil {
		return nil, rpcError(err)
	}
	return toTaskResult(info), nil
}

func (s *Server) pauseTask(_ context.Context, p *taskIDParams) (bool, error) {
	if err := s.downloads.Pause(p.TaskID); err != nil {
		return false, rpcError(err)
	}
	return true, nil
}

func (s *Server) resumeTask(_ context.Context, p *taskIDParams) (bool, error) {
	if err := s.downloads.Resume(p.TaskID); err != nil {
		return false, rpcError(err)
	}
	return true, nil
}

func (s *Server) cancelTask(_ context.Context, p *taskIDParams) (bool, error) {
	if err := s.downloads.Cancel(p.TaskID); err != nil {
		return false, rpcError(err)
	}
	return true, nil
}

type waitForChangeParams struct {
	TaskID    string `json:"task_id"`
	TimeoutMs int64  `json:"timeout_ms"`
}

func (s *Server) waitForChange(ctx context.Context, p *waitForChangeParams) (*taskResult, error) {
	timeout := time.Duration(p.TimeoutMs) * time.Millisecond
	info, err := s.downloads.WaitForChange(ctx, p.TaskID, timeout)
	if err != nil {
		return nil, rpcError(err)
	}
	return toTaskResult(info), nil
}

type getTaskHistoryParams struct {
	SinceMs int64 `json:"since_ms,omitempty"`
}

type taskHistoryEntryResult struct {
	TaskID          string `json:"task_id"`
	URL             string `json:"url"`
	DestPath        string `json:"dest_path"`
	State           string `json:"state"`
	DownloadedBytes int64  `json:"downloaded_bytes"`
	TotalBytes      *int64 `json:"total_bytes,omitempty"`
	Error           string `json:"error,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	StartedAt       *int64 `json:"started_at,omitempty"`
	CompletedAt     *int64 `json:"completed_at,omitempty"`
}

// historyListLimit bounds a single get_task_history response to the most
// recently completed entries; since_ms filters within that window and
// does not reach entries beyond it.
const historyListLimit = 500

func (s *Server) getTaskHistory(_ context.Context, p *getTaskHistoryParams) ([]taskHistoryEntryResult, error) {
	entries, err := s.history.List(historyListLimit)
	if err != nil {
		return nil, rpcError(err)
	}

	var since time.Time
	if p.SinceMs > 0 {
		since = time.UnixMilli(p.SinceMs)
	}

	results := make([]taskHistoryEntryResult, 0, len(entries))
	for _, e := range entries {
		if !since.IsZero() && e.CreatedAt.Before(since) {
			continue
		}
		r := taskHistoryEntryResult{
			TaskID:          e.TaskID,
			URL:             e.URL,
			DestPath:        e.DestPath,
			State:           e.State,
			DownloadedBytes: e.DownloadedBytes,
			TotalBytes:      e.TotalBytes,
			Error:           e.Error,
			CreatedAt:       e.CreatedAt.Unix(),
		}
		if e.StartedAt != nil {
			v := e.StartedAt.Unix()
			r.StartedAt = &v
		}
		if e.CompletedAt != nil {
			v := e.CompletedAt.Unix()
			r.CompletedAt = &v
		}
		results = append(results, r)
	}
	return results, nil
}

// --- expansion: status + update entry points --------------------------------

type identifierParams struct {
	Identifier string `json:"identifier"`
}

type appStatusResult struct {
	Identifier     string `json:"identifier"`
	Status         string `json:"status"`
	CurrentVersion string `json:"current_version,omitempty"`
	LatestVersion  string `json:"latest_version,omitempty"`
	LastChecked    int64  `json:"last_checked,omitempty"`
}

func (s *Server) getStatus(ctx context.Context, p *identifierParams) (*appStatusResult, error) {
	if p.Identifier == "" {
		return nil, invalidParams("identifier is required")
	}
	info, err := s.apps.GetStatus(ctx, p.Identifier)
	if err != nil {
		return nil, rpcError(err)
	}
	return toAppStatusResult(info), nil
}

func (s *Server) getAllStatuses(ctx context.Context) ([]appStatusResult, error) {
	all, err := s.apps.GetAllStatuses(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	results := make([]appStatusResult, 0, len(all))
	for _, info := range all {
		results = append(results, *toAppStatusResult(info))
	}
	return results, nil
}

func toAppStatusResult(info statustracker.Info) *appStatusResult {
	r := &appStatusResult{
		Identifier:     info.Identifier,
		Status:         info.Status.String(),
		CurrentVersion: info.CurrentVersion,
		LatestVersion:  info.LatestVersion,
	}
	if !info.LastChecked.IsZero() {
		r.LastChecked = info.LastChecked.Unix()
	}
	return r
}

type updateAppParams struct {
	Identifier     string `json:"identifier"`
	CurrentVersion string `json:"current_version"`
}

type updateAppResult struct {
	Message string `json:"message"`
}

func (s *Server) updateApp(ctx context.Context, p *updateAppParams) (*updateAppResult, error) {
	if p.Identifier == "" {
		return nil, invalidParams("identifier is required")
	}
	msg, err := s.apps.UpdateApp(ctx, p.Identifier, p.CurrentVersion)
	if err != nil {
		return nil, rpcError(err)
	}
	return &updateAppResult{Message: msg}, nil
}

// --- expansion: star marks, version-ignore, outdated filtering ---------------

type setAppStarParams struct {
	Identifier string `json:"identifier"`
	Starred    bool   `json:"starred"`
}

type appStarResult struct {
	Starred bool `json:"starred"`
}

func (s *Server) setAppStar(_ context.Context, p *setAppStarParams) (*appStarResult, error) {
	if p.Identifier == "" {
		return nil, invalidParams("identifier is required")
	}
	if err := s.apps.SetAppStar(p.Identifier, p.Starred); err != nil {
		return nil, rpcError(err)
	}
	return &appStarResult{Starred: s.apps.IsAppStarred(p.Identifier)}, nil
}

func (s *Server) getStarredApps(_ context.Context) ([]string, error) {
	starred, err := s.apps.StarredApps()
	if err != nil {
		return nil, rpcError(err)
	}
	return starred, nil
}

type setIgnoredVersionParams struct {
	Identifier string `json:"identifier"`
	Version    string `json:"version"`
}

type ignoredVersionResult struct {
	Version string `json:"version,omitempty"`
}

// setIgnoredVersion records version as ignored for identifier; an empty
// version clears any existing ignore mark instead.
func (s *Server) setIgnoredVersion(_ context.Context, p *setIgnoredVersionParams) (*ignoredVersionResult, error) {
	if p.Identifier == "" {
		return nil, invalidParams("identifier is required")
	}
	if err := s.apps.SetIgnoredVersion(p.Identifier, p.Version); err != nil {
		return nil, rpcError(err)
	}
	v, _ := s.apps.IgnoredVersion(p.Identifier)
	return &ignoredVersionResult{Version: v}, nil
}

func (s *Server) getOutdatedApps(ctx context.Context) ([]appStatusResult, error) {
	outdated, err := s.apps.GetOutdatedApps(ctx)
	if err != nil {
		return nil, rpcError(err)
	}
	results := make([]appStatusResult, 0, len(outdated))
	for _, info := range outdated {
		results = append(results, *toAppStatusResult(info))
	}
	return results, nil
}
