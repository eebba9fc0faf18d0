package importer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/export"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
)

// Config bounds a session's resource usage.
type Config struct {
	// MaxChunkSize is the largest single chunk accepted, in bytes.
	MaxChunkSize int64

	// MaxSessionBytes caps the total bytes a session may receive across all
	// objects, committed and in-progress.
	MaxSessionBytes int64

	// SessionTTL is the inactivity window after which a session expires.
	SessionTTL time.Duration
}

// DefaultConfig returns the limits used when the operator does not override
// them.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize:    4 << 20,
		MaxSessionBytes: 1 << 30,
		SessionTTL:      30 * time.Minute,
	}
}

// Manager tracks import sessions. At most one active session exists per
// owner; expired sessions are evicted lazily on access and eagerly by
// SweepExpired.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	hasher   checksum.Hasher
	sessions map[SessionID]*session
	byOwner  map[interfaces.OwnerID]SessionID
	now      func() time.Time
	log      *slog.Logger
}

// NewManager creates a session manager with the given limits.
func NewManager(cfg Config, hasher checksum.Hasher, log *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		hasher:   hasher,
		sessions: make(map[SessionID]*session),
		byOwner:  make(map[interfaces.OwnerID]SessionID),
		now:      time.Now,
		log:      log,
	}
}

// Begin opens a new import session for the owner. An owner with a live
// session must finalize or let it expire before opening another.
func (m *Manager) Begin(owner interfaces.OwnerID) (SessionID, error) {
	if err := owner.Validate(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byOwner[owner]; ok {
		if s := m.liveSession(existing); s != nil {
			return "", fmt.Errorf("%w: owner %s already has active import session %s", interfaces.ErrConflict, owner, existing)
		}
	}

	id := NewSessionID()
	now := m.now()
	m.sessions[id] = &session{
		id:             id,
		owner:          owner,
		createdAt:      now,
		lastActivityAt: now,
		inProgress:     make(map[string]*partialObject),
		completed:      make(map[string][]byte),
		status:         SessionActive,
	}
	m.byOwner[owner] = id

	m.log.Info("Import session opened",
		slog.String("session", id.String()),
		slog.String("owner", owner.String()))
	return id, nil
}

// AttachManifest records the export manifest the session will be finalized
// against. Attaching twice replaces the previous manifest.
func (m *Manager) AttachManifest(owner interfaces.OwnerID, id SessionID, manifest *export.Manifest) error {
	if manifest == nil {
		return fmt.Errorf("%w: nil manifest", interfaces.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.ownedSession(owner, id)
	if err != nil {
		return err
	}
	s.manifest = manifest
	s.lastActivityAt = m.now()
	return nil
}

// PutChunk stores one chunk of an object. Chunks are write-once: a second
// chunk at the same index is rejected and the stored bytes stay untouched.
// The chunk's checksum is recomputed on receipt and must match the declared
// value.
func (m *Manager) PutChunk(owner interfaces.OwnerID, id SessionID, objectID string, index int, data []byte, declared checksum.Checksum) error {
	if objectID == "" {
		return fmt.Errorf("%w: empty object id", interfaces.ErrInvalidArgument)
	}
	if index < 0 {
		return fmt.Errorf("%w: negative chunk index %d", interfaces.ErrInvalidArgument, index)
	}
	if int64(len(data)) > m.cfg.MaxChunkSize {
		return fmt.Errorf("%w: chunk of %d bytes exceeds limit of %d", interfaces.ErrInvalidArgument, len(data), m.cfg.MaxChunkSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.ownedSession(owner, id)
	if err != nil {
		return err
	}

	if s.bytesReceived+int64(len(data)) > m.cfg.MaxSessionBytes {
		return fmt.Errorf("%w: session byte limit of %d exceeded", interfaces.ErrResourceExhausted, m.cfg.MaxSessionBytes)
	}

	got := m.hasher.Sum(data)
	if got != declared {
		return fmt.Errorf("%w: chunk %d of object %s: checksum mismatch: expected %s, actual %s",
			interfaces.ErrInternal, index, objectID, declared, got)
	}

	partial, ok := s.inProgress[objectID]
	if !ok {
		if _, done := s.completed[objectID]; done {
			return fmt.Errorf("%w: object %s already committed", interfaces.ErrConflict, objectID)
		}
		partial = &partialObject{objectID: objectID, chunks: make(map[int]chunk)}
		s.inProgress[objectID] = partial
	}

	if _, dup := partial.chunks[index]; dup {
		return fmt.Errorf("%w: chunk %d of object %s already received", interfaces.ErrConflict, index, objectID)
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	partial.chunks[index] = chunk{bytes: stored, sum: got, receivedAt: m.now()}
	partial.bytesReceived += int64(len(data))
	s.bytesReceived += int64(len(data))
	s.lastActivityAt = m.now()
	return nil
}

// CommitObject closes one object: the received chunks must match the declared
// fragment exactly, in count, bytes, per-chunk checksums, and whole-object
// checksum. On success the reassembled object moves to the completed set and
// the partial state is discarded, so a repeat commit reports the object as
// unknown.
func (m *Manager) CommitObject(owner interfaces.OwnerID, id SessionID, fragment ObjectFragment) error {
	if fragment.ObjectID == "" {
		return fmt.Errorf("%w: empty object id", interfaces.ErrInvalidArgument)
	}
	if fragment.TotalChunks <= 0 {
		return fmt.Errorf("%w: object %s declares %d chunks", interfaces.ErrInvalidArgument, fragment.ObjectID, fragment.TotalChunks)
	}
	if len(fragment.ChunkChecksums) != fragment.TotalChunks {
		return fmt.Errorf("%w: object %s declares %d chunks but lists %d checksums",
			interfaces.ErrInvalidArgument, fragment.ObjectID, fragment.TotalChunks, len(fragment.ChunkChecksums))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.ownedSession(owner, id)
	if err != nil {
		return err
	}

	partial, ok := s.inProgress[fragment.ObjectID]
	if !ok {
		return fmt.Errorf("%w: no in-progress object %s in session %s", interfaces.ErrNotFound, fragment.ObjectID, id)
	}

	if len(partial.chunks) != fragment.TotalChunks {
		return fmt.Errorf("%w: object %s: received %d chunks, fragment declares %d",
			interfaces.ErrConflict, fragment.ObjectID, len(partial.chunks), fragment.TotalChunks)
	}
	if partial.bytesReceived != fragment.TotalSize {
		return fmt.Errorf("%w: object %s: received %d bytes, fragment declares %d",
			interfaces.ErrConflict, fragment.ObjectID, partial.bytesReceived, fragment.TotalSize)
	}

	// Reassemble in index order regardless of arrival order.
	assembled := make([]byte, 0, fragment.TotalSize)
	for i := 0; i < fragment.TotalChunks; i++ {
		c, ok := partial.chunks[i]
		if !ok {
			return fmt.Errorf("%w: object %s: chunk %d missing", interfaces.ErrConflict, fragment.ObjectID, i)
		}
		if c.sum != fragment.ChunkChecksums[i] {
			return fmt.Errorf("%w: object %s: chunk %d: checksum mismatch: expected %s, actual %s",
				interfaces.ErrInternal, fragment.ObjectID, i, fragment.ChunkChecksums[i], c.sum)
		}
		assembled = append(assembled, c.bytes...)
	}

	if got := m.hasher.Sum(assembled); got != fragment.ObjectChecksum {
		return fmt.Errorf("%w: object %s: object checksum mismatch: expected %s, actual %s",
			interfaces.ErrInternal, fragment.ObjectID, fragment.ObjectChecksum, got)
	}

	delete(s.inProgress, fragment.ObjectID)
	s.completed[fragment.ObjectID] = assembled
	s.lastActivityAt = m.now()

	m.log.Debug("Import object committed",
		slog.String("session", id.String()),
		slog.String("object", fragment.ObjectID),
		slog.Int64("bytes", fragment.TotalSize))
	return nil
}

// Finalize closes the session. All objects must be committed; if a manifest
// was attached, every completed object is decoded and its stable-field
// checksum cross-checked against the manifest entry. The session is destroyed
// whether finalization succeeds or fails validation, except when objects are
// still in progress.
func (m *Manager) Finalize(owner interfaces.OwnerID, id SessionID) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.ownedSession(owner, id)
	if err != nil {
		return nil, err
	}

	if len(s.inProgress) > 0 {
		return nil, fmt.Errorf("%w: session %s has %d objects still in progress", interfaces.ErrConflict, id, len(s.inProgress))
	}

	// All objects committed; the session leaves Active and cannot take more
	// writes even if validation below fails.
	s.status = SessionFinalizing

	if s.manifest != nil {
		if err := m.checkAgainstManifest(s); err != nil {
			m.destroy(s, SessionFailed)
			return nil, err
		}
	}

	result := &Result{
		ObjectCount: len(s.completed),
		TotalBytes:  s.bytesReceived,
		Objects:     s.completed,
	}
	m.destroy(s, SessionCompleted)

	m.log.Info("Import session finalized",
		slog.String("session", id.String()),
		slog.String("owner", owner.String()),
		slog.Int("objects", result.ObjectCount),
		slog.Int64("bytes", result.TotalBytes))
	return result, nil
}

// Abort discards a session and everything it received.
func (m *Manager) Abort(owner interfaces.OwnerID, id SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.ownedSession(owner, id)
	if err != nil {
		return err
	}
	m.destroy(s, SessionFailed)
	m.log.Info("Import session aborted", slog.String("session", id.String()))
	return nil
}

// SweepExpired evicts every session past its TTL and returns how many were
// removed. Lazy eviction already covers sessions that are touched; the sweep
// reclaims memory from sessions that are simply abandoned.
func (m *Manager) SweepExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for _, s := range m.sessions {
		if m.expired(s) {
			m.destroy(s, SessionExpired)
			evicted++
		}
	}
	if evicted > 0 {
		m.log.Info("Expired import sessions evicted", slog.Int("count", evicted))
	}
	return evicted
}

// ActiveSession reports the owner's live session ID, if any.
func (m *Manager) ActiveSession(owner interfaces.OwnerID) (SessionID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byOwner[owner]
	if !ok {
		return "", false
	}
	if m.liveSession(id) == nil {
		return "", false
	}
	return id, true
}

// checkAgainstManifest decodes every completed object and verifies its
// stable-field checksum against the attached manifest. Counts must match
// exactly.
func (m *Manager) checkAgainstManifest(s *session) error {
	if s.manifest.ObjectCount != len(s.completed) {
		return fmt.Errorf("%w: object count mismatch: manifest declares %d, session received %d",
			interfaces.ErrInternal, s.manifest.ObjectCount, len(s.completed))
	}
	for objectID, blob := range s.completed {
		entry := s.manifest.ObjectChecksum(objectID)
		if entry == nil {
			return fmt.Errorf("%w: object %s: missing from manifest", interfaces.ErrInternal, objectID)
		}
		obj, err := export.DecodeObject(blob)
		if err != nil {
			return fmt.Errorf("object %s: %w", objectID, err)
		}
		if got := export.ObjectChecksum(m.hasher, obj); got != entry.Checksum {
			return fmt.Errorf("%w: object %s: checksum mismatch: expected %s, actual %s",
				interfaces.ErrInternal, objectID, entry.Checksum, got)
		}
	}
	return nil
}

// liveSession returns the session if it exists and is not expired, evicting
// it otherwise. Caller holds the lock.
func (m *Manager) liveSession(id SessionID) *session {
	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	if m.expired(s) {
		m.destroy(s, SessionExpired)
		return nil
	}
	return s
}

// ownedSession resolves a session and checks ownership. Caller holds the
// lock. Sessions owned by someone else are reported as unauthorized rather
// than not found, so a caller cannot enumerate other owners' session IDs.
func (m *Manager) ownedSession(owner interfaces.OwnerID, id SessionID) (*session, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}
	s := m.liveSession(id)
	if s == nil {
		return nil, fmt.Errorf("%w: no active import session %s", interfaces.ErrNotFound, id)
	}
	if s.owner != owner {
		return nil, fmt.Errorf("%w: session %s is not owned by %s", interfaces.ErrUnauthorized, id, owner)
	}
	return s, nil
}

func (m *Manager) expired(s *session) bool {
	return m.cfg.SessionTTL > 0 && m.now().Sub(s.lastActivityAt) > m.cfg.SessionTTL
}

// destroy removes a session from both indexes. Caller holds the lock.
func (m *Manager) destroy(s *session, final SessionStatus) {
	s.status = final
	delete(m.sessions, s.id)
	if m.byOwner[s.owner] == s.id {
		delete(m.byOwner, s.owner)
	}
	if final == SessionExpired {
		m.log.Info("Import session expired",
			slog.String("session", s.id.String()),
			slog.String("owner", s.owner.String()))
	}
}

// Snapshot captures every live session for persistence.
func (m *Manager) Snapshot() []SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]SessionSnapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		snap := SessionSnapshot{
			ID:             s.id,
			Owner:          s.owner,
			CreatedAt:      s.createdAt,
			LastActivityAt: s.lastActivityAt,
			BytesReceived:  s.bytesReceived,
			Completed:      s.completed,
			Manifest:       s.manifest,
		}
		for _, partial := range s.inProgress {
			objSnap := PartialObjectSnapshot{ObjectID: partial.objectID}
			for index, c := range partial.chunks {
				objSnap.Chunks = append(objSnap.Chunks, ChunkSnapshot{
					Index:      index,
					Bytes:      c.bytes,
					Checksum:   c.sum,
					ReceivedAt: c.receivedAt,
				})
			}
			snap.InProgress = append(snap.InProgress, objSnap)
		}
		out = append(out, snap)
	}
	return out
}

// Restore rebuilds sessions from a persisted snapshot, replacing any current
// state. Sessions already past their TTL are dropped on the next access.
func (m *Manager) Restore(snaps []SessionSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[SessionID]*session, len(snaps))
	m.byOwner = make(map[interfaces.OwnerID]SessionID, len(snaps))
	for _, snap := range snaps {
		s := &session{
			id:             snap.ID,
			owner:          snap.Owner,
			createdAt:      snap.CreatedAt,
			lastActivityAt: snap.LastActivityAt,
			bytesReceived:  snap.BytesReceived,
			inProgress:     make(map[string]*partialObject),
			completed:      snap.Completed,
			status:         SessionActive,
			manifest:       snap.Manifest,
		}
		if s.completed == nil {
			s.completed = make(map[string][]byte)
		}
		for _, objSnap := range snap.InProgress {
			partial := &partialObject{objectID: objSnap.ObjectID, chunks: make(map[int]chunk)}
			for _, c := range objSnap.Chunks {
				partial.chunks[c.Index] = chunk{bytes: c.Bytes, sum: c.Checksum, receivedAt: c.ReceivedAt}
				partial.bytesReceived += int64(len(c.Bytes))
			}
			s.inProgress[objSnap.ObjectID] = partial
		}
		m.sessions[s.id] = s
		m.byOwner[s.owner] = s.id
	}
}
