// Package appmanager implements the Application-Manager Actor (C8): a
// single receive goroutine that admits requests for the provider
// registry, configuration registry, and status tracker over one
// unbuffered request channel (a sender blocks until the receive loop
// takes its request; there is no queue), coalescing identical in-flight
// operations the way the ancestor's getter-appmanager Processor
// coalesces by OpId under an active: map<OpId, [reply]>. Each distinct
// operation executes on its own goroutine, so operations with different
// keys run concurrently and the active map is guarded by activeMu.
package appmanager

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dupdatesystem/getter-go/internal/apperror"
	"github.com/dupdatesystem/getter-go/internal/diaglog"
	"github.com/dupdatesystem/getter-go/internal/provider"
	"github.com/dupdatesystem/getter-go/internal/registry"
	"github.com/dupdatesystem/getter-go/internal/statustracker"
)

type opKind int

const (
	opCheck opKind = iota
	opLatest
	opReleases
	opCheckByID
	opLatestByID
	opReleasesByID
	opUpdate
	opAdd
	opRemove
	opList
	opGetStatus
	opGetAllStatuses
)

func (k opKind) String() string {
	switch k {
	case opCheck:
		return "check_app_available"
	case opLatest:
		return "get_latest_release"
	case opReleases:
		return "get_releases"
	case opCheckByID:
		return "check_app_available_by_identifier"
	case opLatestByID:
		return "get_latest_release_by_identifier"
	case opReleasesByID:
		return "get_releases_by_identifier"
	case opUpdate:
		return "update_app"
	case opAdd:
		return "add_app"
	case opRemove:
		return "remove_app"
	case opList:
		return "list_apps"
	case opGetStatus:
		return "get_status"
	case opGetAllStatuses:
		return "get_all_statuses"
	default:
		return "unknown"
	}
}

// opID is the tagged-union deduplication key: same kind and key means
// the same operation is already in flight.
type opID struct {
	kind opKind
	key  string
}

type result struct {
	boolVal    bool
	release    provider.ReleaseData
	releases   []provider.ReleaseData
	list       []string
	success    string
	status     statustracker.Info
	statusList []statustracker.Info
	err        error
}

type request struct {
	id      opID
	payload any
	reply   chan result
}

type checkPayload struct {
	hubUUID string
	appData provider.DataMap
	hubData provider.DataMap
}

type addPayload struct {
	identifier string
	appData    provider.DataMap
	hubData    provider.DataMap
}

type updatePayload struct {
	identifier string
	version    string
}

// identifierByPayload carries the high-level form of Check/Latest/Releases:
// resolved against the configuration registry instead of a caller-supplied
// (hub_uuid, app_data, hub_data) triple.
type identifierByPayload struct {
	identifier string
}

// Observer receives synchronous notifications for tracked-app mutations.
// Handlers are invoked in registration order, strictly after the
// committing mutation and before the actor's reply is delivered to the
// caller that triggered it.
type Observer interface {
	OnAppAdded(identifier string)
	OnAppRemoved(identifier string)
	OnAppUpdated(identifier string, status statustracker.Info)
}

// Manager is the public handle to the actor: every method sends a
// request and waits for the coalesced reply.
type Manager struct {
	reqCh chan request
	proc  *processor
}

// New starts the actor goroutine and returns a Manager bound to it.
func New(providers *provider.Registry, configs *registry.Manager, tracker *statustracker.Tracker, tracked *registry.Tracker) *Manager {
	reqCh := make(chan request)
	p := &processor{
		reqCh:     reqCh,
		active:    make(map[opID][]chan result),
		providers: providers,
		configs:   configs,
		tracker:   tracker,
		tracked:   tracked,
	}
	go p.run()
	return &Manager{reqCh: reqCh, proc: p}
}

// SetLogger attaches a diagnostics logger the actor reports operation
// failures to; nil disables logging.
func (m *Manager) SetLogger(logger *diaglog.Manager) {
	m.proc.logger.Store(logger)
}

func (m *Manager) send(ctx context.Context, id opID, payload any) (result, error) {
	reply := make(chan result, 1)
	req := request{id: id, payload: payload, reply: reply}

	select {
	case m.reqCh <- req:
	case <-ctx.Done():
		return result{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return result{}, ctx.Err()
	}
}

func appKey(appData, hubData provider.DataMap) string {
	return provider.CanonicalQueryString(appData) + "|" + provider.CanonicalQueryString(hubData)
}

// CheckAppAvailable resolves the provider registered for hubUUID and asks
// whether the described app is available, deduplicating identical
// concurrent calls.
func (m *Manager) CheckAppAvailable(ctx context.Context, hubUUID string, appData, hubData provider.DataMap) (bool, error) {
	id := opID{kind: opCheck, key: hubUUID + ":" + appKey(appData, hubData)}
	r, err := m.send(ctx, id, checkPayload{hubUUID, appData, hubData})
	if err != nil {
		return false, err
	}
	return r.boolVal, r.err
}

// GetLatestRelease resolves the provider registered for hubUUID and
// returns its most recent release.
func (m *Manager) GetLatestRelease(ctx context.Context, hubUUID string, appData, hubData provider.DataMap) (provider.ReleaseData, error) {
	id := opID{kind: opLatest, key: hubUUID + ":" + appKey(appData, hubData)}
	r, err := m.send(ctx, id, checkPayload{hubUUID, appData, hubData})
	if err != nil {
		return provider.ReleaseData{}, err
	}
	return r.release, r.err
}

// GetReleases resolves the provider registered for hubUUID and returns
// its full release list.
func (m *Manager) GetReleases(ctx context.Context, hubUUID string, appData, hubData provider.DataMap) ([]provider.ReleaseData, error) {
	id := opID{kind: opReleases, key: hubUUID + ":" + appKey(appData, hubData)}
	r, err := m.send(ctx, id, checkPayload{hubUUID, appData, hubData})
	if err != nil {
		return nil, err
	}
	return r.releases, r.err
}

// CheckAppAvailableByIdentifier is the high-level form of
// CheckAppAvailable: it resolves identifier against the configuration
// registry into a (hub_uuid, app_data, hub_data) triple and delegates to
// the same low-level execution path.
func (m *Manager) CheckAppAvailableByIdentifier(ctx context.Context, identifier string) (bool, error) {
	id := opID{kind: opCheckByID, key: identifier}
	r, err := m.send(ctx, id, identifierByPayload{identifier})
	if err != nil {
		return false, err
	}
	return r.boolVal, r.err
}

// GetLatestReleaseByIdentifier is the high-level form of GetLatestRelease.
func (m *Manager) GetLatestReleaseByIdentifier(ctx context.Context, identifier string) (provider.ReleaseData, error) {
	id := opID{kind: opLatestByID, key: identifier}
	r, err := m.send(ctx, id, identifierByPayload{identifier})
	if err != nil {
		return provider.ReleaseData{}, err
	}
	return r.release, r.err
}

// GetReleasesByIdentifier is the high-level form of GetReleases.
func (m *Manager) GetReleasesByIdentifier(ctx context.Context, identifier string) ([]provider.ReleaseData, error) {
	id := opID{kind: opReleasesByID, key: identifier}
	r, err := m.send(ctx, id, identifierByPayload{identifier})
	if err != nil {
		return nil, err
	}
	return r.releases, r.err
}

// SetAppStar toggles identifier's star mark. Stars are a derived view
// persisted in the tracked-app registry's tracking state, not part of
// the actor's own in-memory state.
func (m *Manager) SetAppStar(identifier string, starred bool) error {
	return m.proc.setStar(identifier, starred)
}

// IsAppStarred reports identifier's current star mark.
func (m *Manager) IsAppStarred(identifier string) bool {
	return m.proc.isStarred(identifier)
}

// StarredApps returns every currently starred identifier.
func (m *Manager) StarredApps() ([]string, error) {
	return m.proc.starredApps()
}

// SetIgnoredVersion marks version as ignored for identifier, excluding it
// from GetOutdatedApps until cleared. An empty version clears the mark.
func (m *Manager) SetIgnoredVersion(identifier, version string) error {
	return m.proc.setIgnoredVersion(identifier, version)
}

// IgnoredVersion returns the version currently ignored for identifier, if any.
func (m *Manager) IgnoredVersion(identifier string) (string, bool) {
	return m.proc.ignoredVersion(identifier)
}

// GetOutdatedApps returns every tracked app whose status is Outdated,
// excluding apps whose latest version is marked ignored.
func (m *Manager) GetOutdatedApps(ctx context.Context) ([]statustracker.Info, error) {
	all, err := m.GetAllStatuses(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]statustracker.Info, 0, len(all))
	for _, info := range all {
		if info.Status != statustracker.StatusOutdated {
			continue
		}
		if m.proc.isVersionIgnored(info.Identifier, info.LatestVersion) {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// RegisterObserver adds o to the list of handlers notified after every
// committing add/remove/update. Observers are never unregistered
// individually; ClearObservers drops all of them at once.
func (m *Manager) RegisterObserver(o Observer) {
	m.proc.registerObserver(o)
}

// ClearObservers drops every registered observer.
func (m *Manager) ClearObservers() {
	m.proc.clearObservers()
}

// AddApp parses identifier, confirms it resolves against the
// configuration registry, persists it to the tracked-app list, and
// seeds its status as Inactive. Fails if the identifier is already
// tracked.
func (m *Manager) AddApp(ctx context.Context, identifier string, appData, hubData provider.DataMap) error {
	id := opID{kind: opAdd, key: identifier}
	r, err := m.send(ctx, id, addPayload{identifier, appData, hubData})
	if err != nil {
		return err
	}
	return r.err
}

// RemoveApp removes identifier from tracking, reporting whether
// anything was removed.
func (m *Manager) RemoveApp(ctx context.Context, identifier string) (bool, error) {
	id := opID{kind: opRemove, key: identifier}
	r, err := m.send(ctx, id, identifier)
	if err != nil {
		return false, err
	}
	return r.boolVal, r.err
}

// ListApps returns every tracked identifier.
func (m *Manager) ListApps(ctx context.Context) ([]string, error) {
	id := opID{kind: opList, key: ""}
	r, err := m.send(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return r.list, r.err
}

// GetStatus returns the tracked status for identifier.
func (m *Manager) GetStatus(ctx context.Context, identifier string) (statustracker.Info, error) {
	id := opID{kind: opGetStatus, key: identifier}
	r, err := m.send(ctx, id, identifier)
	if err != nil {
		return statustracker.Info{}, err
	}
	return r.status, r.err
}

// GetAllStatuses returns every tracked app's status.
func (m *Manager) GetAllStatuses(ctx context.Context) ([]statustracker.Info, error) {
	id := opID{kind: opGetAllStatuses, key: ""}
	r, err := m.send(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return r.statusList, r.err
}

// UpdateApp records a newly observed current version for identifier and
// re-derives its status.
func (m *Manager) UpdateApp(ctx context.Context, identifier, version string) (string, error) {
	id := opID{kind: opUpdate, key: identifier}
	r, err := m.send(ctx, id, updatePayload{identifier, version})
	if err != nil {
		return "", err
	}
	return r.success, r.err
}

type processor struct {
	reqCh     chan request
	activeMu  sync.Mutex
	active    map[opID][]chan result
	providers *provider.Registry
	configs   *registry.Manager
	tracker   *statustracker.Tracker
	tracked   *registry.Tracker
	logger    atomic.Pointer[diaglog.Manager]

	// observerMu guards the Extensions observer list: a pure derived view
	// layered on top of the tracked-app list above, grounded on the
	// ancestor's ExtendedAppManager's ObserverManager. Star marks and
	// version-ignore state are themselves pure derived views too, but
	// persist through p.tracked's own TrackingState rather than an
	// in-memory map here, so add/remove/restart never diverge from what
	// the CLI's mark-app-version surface writes to the same store.
	observerMu sync.Mutex
	observers  []Observer
}

// setStar persists identifier's star mark into its tracking state.
func (p *processor) setStar(identifier string, starred bool) error {
	id, err := registry.ParseIdentifier(identifier)
	if err != nil {
		return err
	}
	state, err := p.tracked.GetState(id)
	if err != nil {
		return err
	}
	state.Starred = starred
	return p.tracked.SetState(id, state)
}

func (p *processor) isStarred(identifier string) bool {
	id, err := registry.ParseIdentifier(identifier)
	if err != nil {
		return false
	}
	state, err := p.tracked.GetState(id)
	if err != nil {
		return false
	}
	return state.Starred
}

func (p *processor) starredApps() ([]string, error) {
	ids, err := p.tracked.List()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		state, err := p.tracked.GetState(id)
		if err != nil {
			continue
		}
		if state.Starred {
			out = append(out, id.String())
		}
	}
	return out, nil
}

// setIgnoredVersion persists version as identifier's ignored version; an
// empty version clears the mark.
func (p *processor) setIgnoredVersion(identifier, version string) error {
	id, err := registry.ParseIdentifier(identifier)
	if err != nil {
		return err
	}
	state, err := p.tracked.GetState(id)
	if err != nil {
		return err
	}
	state.IgnoredVersion = version
	return p.tracked.SetState(id, state)
}

func (p *processor) ignoredVersion(identifier string) (string, bool) {
	id, err := registry.ParseIdentifier(identifier)
	if err != nil {
		return "", false
	}
	state, err := p.tracked.GetState(id)
	if err != nil || state.IgnoredVersion == "" {
		return "", false
	}
	return state.IgnoredVersion, true
}

func (p *processor) isVersionIgnored(identifier, version string) bool {
	if version == "" {
		return false
	}
	v, ok := p.ignoredVersion(identifier)
	return ok && v == version
}

func (p *processor) registerObserver(o Observer) {
	p.observerMu.Lock()
	p.observers = append(p.observers, o)
	p.observerMu.Unlock()
}

func (p *processor) clearObservers() {
	p.observerMu.Lock()
	p.observers = nil
	p.observerMu.Unlock()
}

func (p *processor) snapshotObservers() []Observer {
	p.observerMu.Lock()
	defer p.observerMu.Unlock()
	out := make([]Observer, len(p.observers))
	copy(out, p.observers)
	return out
}

// notifyAdded, notifyRemoved, and notifyUpdated run synchronously inside
// the exec path that committed the mutation, in registration order, so
// that every observer has already run by the time the actor delivers its
// reply to the caller.
func (p *processor) notifyAdded(identifier string) {
	for _, o := range p.snapshotObservers() {
		o.OnAppAdded(identifier)
	}
}

func (p *processor) notifyRemoved(identifier string) {
	for _, o := range p.snapshotObservers() {
		o.OnAppRemoved(identifier)
	}
}

func (p *processor) notifyUpdated(identifier string, status statustracker.Info) {
	for _, o := range p.snapshotObservers() {
		o.OnAppUpdated(identifier, status)
	}
}

func (p *processor) run() {
	for req := range p.reqCh {
		id := req.id

		p.activeMu.Lock()
		if waiters, ok := p.active[id]; ok {
			p.active[id] = append(waiters, req.reply)
			p.activeMu.Unlock()
			continue
		}
		p.active[id] = []chan result{req.reply}
		p.activeMu.Unlock()

		go func(id opID, payload any) {
			res := p.execute(id, payload)

			p.activeMu.Lock()
			waiters := p.active[id]
			delete(p.active, id)
			p.activeMu.Unlock()

			for _, w := range waiters {
				w <- res
			}
		}(id, req.payload)
	}
}

func (p *processor) execute(id opID, payload any) result {
	var res result
	switch id.kind {
	case opCheck:
		res = p.execCheck(payload.(checkPayload))
	case opLatest:
		res = p.execLatest(payload.(checkPayload))
	case opReleases:
		res = p.execReleases(payload.(checkPayload))
	case opCheckByID:
		res = p.execCheckByID(payload.(identifierByPayload))
	case opLatestByID:
		res = p.execLatestByID(payload.(identifierByPayload))
	case opReleasesByID:
		res = p.execReleasesByID(payload.(identifierByPayload))
	case opAdd:
		res = p.execAdd(payload.(addPayload))
	case opRemove:
		res = p.execRemove(payload.(string))
	case opUpdate:
		res = p.execUpdate(payload.(updatePayload))
	case opList:
		res = p.execList()
	case opGetStatus:
		res = p.execGetStatus(payload.(string))
	case opGetAllStatuses:
		res = p.execGetAllStatuses()
	default:
		res = result{err: apperror.New(apperror.KindInvalidInput, "unknown operation")}
	}
	if res.err != nil {
		if logger := p.logger.Load(); logger != nil {
			logger.Errorf("op %s %s failed: %v", id.kind, id.key, res.err)
		}
	}
	return res
}

func (p *processor) resolveProvider(hubUUID string) (provider.Provider, error) {
	prov, ok := p.providers.ByUUID(hubUUID)
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "no provider registered for hub "+hubUUID)
	}
	return prov, nil
}

func (p *processor) execCheck(pl checkPayload) result {
	prov, err := p.resolveProvider(pl.hubUUID)
	if err != nil {
		return result{err: err}
	}
	out, err := prov.CheckAppAvailable(context.Background(), provider.Input{AppData: pl.appData, HubData: pl.hubData})
	if err != nil {
		return result{err: err}
	}
	return result{boolVal: out.Result}
}

func (p *processor) execLatest(pl checkPayload) result {
	prov, err := p.resolveProvider(pl.hubUUID)
	if err != nil {
		return result{err: err}
	}
	out, err := prov.GetLatestRelease(context.Background(), provider.Input{AppData: pl.appData, HubData: pl.hubData})
	if err != nil {
		return result{err: err}
	}
	return result{release: out.Result}
}

func (p *processor) execReleases(pl checkPayload) result {
	prov, err := p.resolveProvider(pl.hubUUID)
	if err != nil {
		return result{err: err}
	}
	out, err := prov.GetReleases(context.Background(), provider.Input{AppData: pl.appData, HubData: pl.hubData})
	if err != nil {
		return result{err: err}
	}
	return result{releases: out.Result}
}

// resolveIdentifier looks up identifier against the configuration
// registry and builds the low-level (hub_uuid, app_data, hub_data)
// payload Check/Latest/Releases execute against, resolving Open Question
// 1's dual entry points: the high-level identifier form is implemented
// in terms of the low-level form after this lookup.
func (p *processor) resolveIdentifier(identifier string) (checkPayload, error) {
	id, err := registry.ParseIdentifier(identifier)
	if err != nil {
		return checkPayload{}, err
	}
	appCfg, err := p.configs.GetAppConfig(id.AppID)
	if err != nil {
		return checkPayload{}, err
	}
	hubCfg, err := p.configs.GetHubConfig(id.HubID)
	if err != nil {
		return checkPayload{}, err
	}
	return checkPayload{
		hubUUID: hubCfg.ProviderType,
		appData: provider.DataMap(appCfg.Metadata),
		hubData: provider.DataMap(hubCfg.Config),
	}, nil
}

func (p *processor) execCheckByID(pl identifierByPayload) result {
	cp, err := p.resolveIdentifier(pl.identifier)
	if err != nil {
		return result{err: err}
	}
	return p.execCheck(cp)
}

func (p *processor) execLatestByID(pl identifierByPayload) result {
	cp, err := p.resolveIdentifier(pl.identifier)
	if err != nil {
		return result{err: err}
	}
	return p.execLatest(cp)
}

func (p *processor) execReleasesByID(pl identifierByPayload) result {
	cp, err := p.resolveIdentifier(pl.identifier)
	if err != nil {
		return result{err: err}
	}
	return p.execReleases(cp)
}

func (p *processor) execAdd(pl addPayload) result {
	id, err := registry.ParseIdentifier(pl.identifier)
	if err != nil {
		return result{err: err}
	}

	if _, err := p.configs.GetAppConfig(id.AppID); err != nil {
		return result{err: err}
	}
	if _, err := p.configs.GetHubConfig(id.HubID); err != nil {
		return result{err: err}
	}

	existing, err := p.tracked.List()
	if err != nil {
		return result{err: err}
	}
	for _, e := range existing {
		if e == id {
			return result{err: apperror.New(apperror.KindConflict, "app "+pl.identifier+" already tracked")}
		}
	}

	if err := p.tracked.Add(id); err != nil {
		return result{err: err}
	}
	p.tracker.Seed(pl.identifier)
	p.notifyAdded(pl.identifier)

	return result{success: "app '" + pl.identifier + "' added successfully"}
}

func (p *processor) execRemove(identifier string) result {
	id, err := registry.ParseIdentifier(identifier)
	if err != nil {
		return result{err: err}
	}

	removed, err := removeFromList(p.tracked, id)
	if err != nil {
		return result{err: err}
	}
	if removed {
		p.tracker.Remove(identifier)
		// removeFromList already deleted the tracking-state entry
		// (star mark + ignored version) via tracked.Remove.
		p.notifyRemoved(identifier)
	}
	return result{boolVal: removed}
}

func removeFromList(tracked *registry.Tracker, id registry.Identifier) (bool, error) {
	before, err := tracked.List()
	if err != nil {
		return false, err
	}
	present := false
	for _, e := range before {
		if e == id {
			present = true
			break
		}
	}
	if !present {
		return false, nil
	}
	if err := tracked.Remove(id); err != nil {
		return false, err
	}
	return true, nil
}

func (p *processor) execList() result {
	ids, err := p.tracked.List()
	if err != nil {
		return result{err: err}
	}
	list := make([]string, len(ids))
	for i, id := range ids {
		list[i] = id.String()
	}
	return result{list: list}
}

func (p *processor) execGetStatus(identifier string) result {
	info, ok := p.tracker.Get(identifier)
	if !ok {
		return result{err: apperror.New(apperror.KindNotFound, "app '"+identifier+"' not found")}
	}
	return result{status: info}
}

func (p *processor) execGetAllStatuses() result {
	return result{statusList: p.tracker.All()}
}

func (p *processor) execUpdate(pl updatePayload) result {
	existing, _ := p.tracker.Get(pl.identifier)
	info := p.tracker.SetVersions(pl.identifier, pl.version, existing.LatestVersion)
	p.notifyUpdated(pl.identifier, info)
	return result{success: "updated " + pl.identifier + " to " + pl.version}
}
