package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sixoverme/cqec-os/internal/auth"
	"github.com/sixoverme/cqec-os/internal/bus"
	"github.com/sixoverme/cqec-os/internal/config"
	"github.com/sixoverme/cqec-os/internal/registry"
	"github.com/sixoverme/cqec-os/internal/search"
	"github.com/sixoverme/cqec-os/internal/store"
	"github.com/sixoverme/cqec-os/internal/util"
	"github.com/sixoverme/cqec-os/internal/wave"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Handle    string
	ExpiresAt time.Time
}

type dataStore interface {
	LoadSnapshot(ctx context.Context) (store.Snapshot, error)
	GetProfile(ctx context.Context, id string) (store.Profile, error)
	UpdateProfile(ctx context.Context, p store.Profile) error
	InsertDomain(ctx context.Context, d store.DomainRow) error
	InsertRole(ctx context.Context, r store.RoleRow) error
	UpdateRoleHolders(ctx context.Context, roleID string, holderIDs []string) error
	InsertWave(ctx context.Context, w store.WaveRow) error
	UpdateWaveFolder(ctx context.Context, waveID, folder string) error
	UpdateWaveTitle(ctx context.Context, waveID, title string) error
	UpdateWaveTags(ctx context.Context, waveID string, tags []string) error
	UpdateWavePinned(ctx context.Context, waveID string, pinned bool) error
	UpdateWaveActivity(ctx context.Context, waveID string, at time.Time) error
	UpdateWaveProposal(ctx context.Context, waveID string, metadata []byte, at time.Time) error
	InsertParticipants(ctx context.Context, items []store.ParticipantRow) error
	SetParticipantRead(ctx context.Context, waveID, userID string, isRead bool) error
	MarkUnreadForOthers(ctx context.Context, waveID, authorID string) error
	InsertBlip(ctx context.Context, b store.BlipRow) error
	UpdateBlipContent(ctx context.Context, blipID, content string, gadgets []byte, editedAt time.Time, editorID string) error
	UpdateBlipGadgets(ctx context.Context, blipID string, gadgets []byte) error
	UpdateBlipLock(ctx context.Context, blipID string, locked bool) error
	SoftDeleteBlip(ctx context.Context, blipID string, at time.Time) error
	InsertBlipVersion(ctx context.Context, v store.BlipVersionRow) error
	Ping(ctx context.Context) error
}

// Service owns the in-memory wave set, the domain/role registry, and the
// cached profile directory. Every read and mutation goes through its mutex;
// mutations replace waves and trees wholesale, never edit them in place, so
// a reader that already holds a reference keeps a consistent view.
type Service struct {
	cfg    config.Config
	store  dataStore
	pub    bus.Publisher
	search *search.Service

	mu       sync.Mutex
	waves    []*wave.Wave
	registry *registry.Registry
	users    map[string]store.Profile
	// reads[waveID][userID]: per-viewer read state, a participant relation
	// distinct from the wave record itself
	reads map[string]map[string]bool

	selectedWaveID string
	view           wave.View

	persistWG sync.WaitGroup
}

func New(cfg config.Config, dataStore *store.PostgresStore, publisher bus.Publisher, searchService *search.Service) *Service {
	return newService(cfg, dataStore, publisher, searchService)
}

func newService(cfg config.Config, ds dataStore, publisher bus.Publisher, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    ds,
		pub:      publisher,
		search:   searchService,
		registry: registry.New(),
		users:    make(map[string]store.Profile),
		reads:    make(map[string]map[string]bool),
		view:     wave.View{Folder: string(wave.FolderInbox)},
	}
}

// LoadSnapshot fetches every entity kind, rebuilds all wave trees, and swaps
// the in-memory state in one step. Readers never observe a partially rebuilt
// set; an in-flight optimistic edit that raced the reload is simply replaced
// by the authoritative state.
func (s *Service) LoadSnapshot(ctx context.Context) error {
	snap, err := s.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	waves, reads := buildWaves(snap)
	domains, roles := registryFromSnapshot(snap)
	profiles := make(map[string]store.Profile, len(snap.Profiles))
	for _, p := range snap.Profiles {
		profiles[p.ID] = p
	}

	s.mu.Lock()
	s.waves = waves
	s.reads = reads
	s.users = profiles
	s.registry.Reset(domains, roles)
	if s.selectedWaveID != "" {
		if _, found := s.findWaveLocked(s.selectedWaveID); found == nil {
			s.selectedWaveID = ""
		}
	}
	s.mu.Unlock()

	s.reindexSearch(waves)
	return nil
}

// Flush waits for all in-flight persistence calls to finish. Used by tests
// and graceful shutdown.
func (s *Service) Flush() {
	s.persistWG.Wait()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Identify resolves the profile behind userID and issues an identity token
// for it. Authentication proper lives with the external identity provider;
// mutations take the acting user from the verified token on each request.
func (s *Service) Identify(ctx context.Context, userID string) (Session, error) {
	profile, err := s.lookupProfile(ctx, userID)
	if err != nil {
		return Session{}, err
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	token, err := auth.IssueToken([]byte(s.cfg.AuthSecret), auth.Claims{
		Sub:    profile.ID,
		Name:   profile.Name,
		Handle: profile.Handle,
		Exp:    expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	s.mu.Lock()
	s.users[profile.ID] = profile
	s.mu.Unlock()

	return Session{
		Token:     token,
		UserID:    profile.ID,
		UserName:  profile.Name,
		Handle:    profile.Handle,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.AuthSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Handle:    claims.Handle,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) lookupProfile(ctx context.Context, userID string) (store.Profile, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return store.Profile{}, validationError("userId is required")
	}
	s.mu.Lock()
	profile, ok := s.users[id]
	s.mu.Unlock()
	if ok {
		return profile, nil
	}
	profile, err := s.store.GetProfile(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Profile{}, notFound("profile not found")
		}
		log.Printf("get profile %s: %v", id, err)
		return store.Profile{}, persistenceFailure("profile lookup failed")
	}
	return profile, nil
}

// UpdateProfile replaces userID's cached identity record and writes it
// through to the identity store.
func (s *Service) UpdateProfile(ctx context.Context, userID string, p store.Profile) (store.Profile, error) {
	if userID == "" {
		return store.Profile{}, privilegeDenied("no acting user")
	}
	s.mu.Lock()
	current, ok := s.users[userID]
	if !ok {
		s.mu.Unlock()
		return store.Profile{}, notFound("profile not found")
	}
	if trimmed := strings.TrimSpace(p.Name); trimmed != "" {
		current.Name = trimmed
	}
	current.Bio = p.Bio
	current.Status = p.Status
	current.Capacity = p.Capacity
	current.AccessNeeds = p.AccessNeeds
	if p.Color != "" {
		current.Color = p.Color
	}
	if p.AvatarURL != "" {
		current.AvatarURL = p.AvatarURL
	}
	s.users[current.ID] = current
	s.mu.Unlock()

	s.persist("update profile", "profiles", bus.EventUpdate, func(ctx context.Context) error {
		return s.store.UpdateProfile(ctx, current)
	})
	return current, nil
}

func (s *Service) Profiles() []store.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Profile, 0, len(s.users))
	for _, p := range s.users {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) Domains() []registry.Domain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registry.Domains()
}

type CreateCircleInput struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
	ParentID    string `json:"parentId"`
}

// CreateCircle registers a new circle directly, outside the proposal flow,
// and makes it the active navigation context.
func (s *Service) CreateCircle(ctx context.Context, actor string, input CreateCircleInput) (registry.Domain, error) {
	if actor == "" {
		return registry.Domain{}, privilegeDenied("no acting user")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return registry.Domain{}, validationError("name is required")
	}

	domain := registry.Domain{
		ID:          util.NewID("domain"),
		Name:        name,
		Color:       input.Color,
		Description: input.Description,
		ParentID:    input.ParentID,
	}

	s.mu.Lock()
	if err := s.registry.AddDomain(domain); err != nil {
		s.mu.Unlock()
		if errors.Is(err, registry.ErrUnknownParent) {
			return registry.Domain{}, notFound("parent domain not found")
		}
		return registry.Domain{}, fmt.Errorf("create circle: %w", err)
	}
	s.view.DomainID = domain.ID
	s.deselectIfHiddenLocked()
	s.mu.Unlock()

	s.persist("create circle", "domains", bus.EventInsert, func(ctx context.Context) error {
		return s.store.InsertDomain(ctx, store.DomainRow{
			ID:          domain.ID,
			Name:        domain.Name,
			Color:       domain.Color,
			Description: domain.Description,
			ParentID:    domain.ParentID,
		})
	})
	return domain, nil
}

func (s *Service) Roles(domainID string) []registry.Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	if domainID != "" {
		return s.registry.RolesInDomain(domainID)
	}
	return s.registry.Roles()
}

// View state. The sidebar's folder/domain/query selection lives with the
// service so list views and deselection rules stay consistent.

func (s *Service) ActiveView() wave.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Service) SetFolder(folder string) error {
	if folder != wave.ViewDMs && !wave.ValidFolder(wave.Folder(folder)) {
		return validationError("unknown folder")
	}
	s.mu.Lock()
	s.view.Folder = folder
	s.view.DomainID = ""
	s.deselectIfHiddenLocked()
	s.mu.Unlock()
	return nil
}

func (s *Service) SetDomain(domainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if domainID != "" {
		if _, ok := s.registry.Domain(domainID); !ok {
			return notFound("domain not found")
		}
	}
	s.view.DomainID = domainID
	s.deselectIfHiddenLocked()
	return nil
}

func (s *Service) SetSearch(query string) {
	s.mu.Lock()
	s.view.Query = query
	s.deselectIfHiddenLocked()
	s.mu.Unlock()
}

// WavesView returns the display roots of the active view as seen by viewer,
// most recent activity first, flat while a search query is active.
func (s *Service) WavesView(viewer string) []*wave.Wave {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := wave.Filter(s.waves, s.view)
	roots := wave.DisplayRoots(filtered, s.view.Searching())
	out := make([]*wave.Wave, 0, len(roots))
	for _, w := range roots {
		out = append(out, s.viewerCopyLocked(w, viewer))
	}
	return out
}

// SubWaves returns the nested children of parentID within the active view.
func (s *Service) SubWaves(viewer, parentID string) []*wave.Wave {
	s.mu.Lock()
	defer s.mu.Unlock()
	filtered := wave.Filter(s.waves, s.view)
	children := wave.Children(filtered, parentID)
	out := make([]*wave.Wave, 0, len(children))
	for _, w := range children {
		out = append(out, s.viewerCopyLocked(w, viewer))
	}
	return out
}

func (s *Service) WaveByID(viewer, waveID string) (*wave.Wave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.findWaveLocked(waveID)
	if found == nil {
		return nil, notFound("wave not found")
	}
	return s.viewerCopyLocked(found, viewer), nil
}

func (s *Service) SelectedWave(viewer string) *wave.Wave {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectedWaveID == "" {
		return nil
	}
	_, found := s.findWaveLocked(s.selectedWaveID)
	if found == nil {
		return nil
	}
	return s.viewerCopyLocked(found, viewer)
}

// SelectWave focuses a wave and marks it read for viewer.
func (s *Service) SelectWave(ctx context.Context, viewer, waveID string) (*wave.Wave, error) {
	if viewer == "" {
		return nil, privilegeDenied("no acting user")
	}
	s.mu.Lock()
	_, found := s.findWaveLocked(waveID)
	if found == nil {
		s.mu.Unlock()
		return nil, notFound("wave not found")
	}
	s.selectedWaveID = waveID
	s.setReadLocked(waveID, viewer, true)
	view := s.viewerCopyLocked(found, viewer)
	s.mu.Unlock()

	s.persist("mark read", "wave_participants", bus.EventUpdate, func(ctx context.Context) error {
		return s.store.SetParticipantRead(ctx, waveID, viewer, true)
	})
	return view, nil
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// internal helpers

func (s *Service) findWaveLocked(waveID string) (int, *wave.Wave) {
	for i, w := range s.waves {
		if w.ID == waveID {
			return i, w
		}
	}
	return -1, nil
}

func (s *Service) viewerCopyLocked(w *wave.Wave, viewer string) *wave.Wave {
	copied := w.Clone()
	copied.IsRead = s.readLocked(w.ID, viewer)
	return copied
}

func (s *Service) readLocked(waveID, userID string) bool {
	if userID == "" {
		return true
	}
	byUser, ok := s.reads[waveID]
	if !ok {
		return true
	}
	isRead, ok := byUser[userID]
	if !ok {
		return true
	}
	return isRead
}

func (s *Service) setReadLocked(waveID, userID string, isRead bool) {
	byUser, ok := s.reads[waveID]
	if !ok {
		byUser = make(map[string]bool)
		s.reads[waveID] = byUser
	}
	byUser[userID] = isRead
}

// deselectIfHiddenLocked clears the selection when the selected wave is not
// part of the active view anymore, so no stale view stays on screen.
func (s *Service) deselectIfHiddenLocked() {
	if s.selectedWaveID == "" {
		return
	}
	filtered := wave.Filter(s.waves, s.view)
	for _, w := range filtered {
		if w.ID == s.selectedWaveID {
			return
		}
	}
	s.selectedWaveID = ""
}

func (s *Service) profileNameLocked(userID string) string {
	if p, ok := s.users[userID]; ok && p.Name != "" {
		return p.Name
	}
	return userID
}

// runAsync executes fn off the request path. Optimistic mutations are
// fire-and-continue: the in-memory change is already visible and a failed
// write is only logged, with the next snapshot reload as the recovery path.
func (s *Service) runAsync(fn func(ctx context.Context)) {
	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Service) persist(op, table string, eventType bus.EventType, fn func(ctx context.Context) error) {
	s.runAsync(func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			log.Printf("persist %s: %v", op, err)
			return
		}
		s.notify(ctx, table, eventType)
	})
}

func (s *Service) notify(ctx context.Context, table string, eventType bus.EventType) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, bus.ChangeEvent{Table: table, Type: eventType}); err != nil {
		log.Printf("publish %s change: %v", table, err)
	}
}

func (s *Service) reindexSearch(waves []*wave.Wave) {
	if s.search == nil {
		return
	}
	waveRecords, blipRecords := searchRecords(waves)
	s.search.ReindexAll(waveRecords, blipRecords)
}

func (s *Service) indexWave(w *wave.Wave) {
	if s.search == nil {
		return
	}
	s.search.IndexWave(waveRecordFrom(w))
}

func marshalJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("marshal %T: %v", v, err)
		return nil
	}
	return data
}
