// Package orchestrator sequences one owner's migration onto a personal
// instance: export, instance creation, image installation, chunked import,
// verification, and controller handoff. Progress is tracked in a per-owner
// migration record that survives restarts; every stage failure is recorded
// rather than propagated, so callers poll status instead of catching errors.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/arcadia-cloud/tenant-split-backend/checksum"
	"github.com/arcadia-cloud/tenant-split-backend/export"
	"github.com/arcadia-cloud/tenant-split-backend/importer"
	"github.com/arcadia-cloud/tenant-split-backend/interfaces"
	"github.com/arcadia-cloud/tenant-split-backend/ledger"
	"github.com/arcadia-cloud/tenant-split-backend/metrics"
	"github.com/arcadia-cloud/tenant-split-backend/registry"
)

// SupportedSchemaVersion is the newest record schema this service can
// migrate. Records written by a newer service version are refused at
// verification rather than migrated with silent data loss.
const SupportedSchemaVersion = 1

// validNext is the forward edge of the state machine. Failed is reachable
// from every state; Failed returns to NotStarted only through an explicit
// retry in RunMigration.
var validNext = map[interfaces.MigrationStatus]interfaces.MigrationStatus{
	interfaces.StatusNotStarted: interfaces.StatusExporting,
	interfaces.StatusExporting:  interfaces.StatusCreating,
	interfaces.StatusCreating:   interfaces.StatusInstalling,
	interfaces.StatusInstalling: interfaces.StatusImporting,
	interfaces.StatusImporting:  interfaces.StatusVerifying,
	interfaces.StatusVerifying:  interfaces.StatusCompleted,
}

// Config carries the per-deployment migration parameters.
type Config struct {
	// ServiceIdentity is the service's own controller identity, installed as
	// co-controller at creation and dropped at handoff.
	ServiceIdentity interfaces.OwnerID

	// FundingAmount is consumed from the ledger for every instance created.
	FundingAmount *uint256.Int

	// Image is the program image installed on new instances.
	Image []byte

	// ImportChunkSize is the chunk size used when driving the import
	// protocol.
	ImportChunkSize int
}

// Result is the structured response of a migration run or status query.
type Result struct {
	Success    bool                       `json:"success"`
	Status     interfaces.MigrationStatus `json:"status"`
	InstanceID interfaces.InstanceID      `json:"instance_id,omitempty"`
	Attempts   int                        `json:"attempts,omitempty"`
	Message    string                     `json:"message,omitempty"`
}

// Orchestrator runs migrations. Migrations for distinct owners run
// concurrently; the record map, ledger, and registry are each guarded by
// their own single-writer lock.
type Orchestrator struct {
	cfg        Config
	ledger     *ledger.Ledger
	registry   *registry.Registry
	exporter   *export.Exporter
	importer   *importer.Manager
	platform   interfaces.PlatformAPI
	authorizer interfaces.Authorizer
	hasher     checksum.Hasher

	// archive is optional; when set, validated snapshots and manifests are
	// stored for audit before provisioning begins.
	archive interfaces.StorageBackend

	mu         sync.Mutex
	migrations map[interfaces.OwnerID]*interfaces.MigrationRecord

	// inflight marks owners whose run currently holds the machine. The
	// record alone cannot carry this: a record reset to NotStarted is
	// indistinguishable from one that never started, and the window between
	// admission and the first stage transition must still block re-entry.
	inflight map[interfaces.OwnerID]struct{}

	// persist is called after every record transition; nil disables
	// persistence.
	persist func() error

	metrics *metrics.MigrationMetrics
	now     func() time.Time
	log     *slog.Logger
}

// New creates an orchestrator. Archive, persist, and migration metrics may be
// nil.
func New(
	cfg Config,
	ldgr *ledger.Ledger,
	reg *registry.Registry,
	exporter *export.Exporter,
	imp *importer.Manager,
	platform interfaces.PlatformAPI,
	authorizer interfaces.Authorizer,
	hasher checksum.Hasher,
	archive interfaces.StorageBackend,
	persist func() error,
	migrationMetrics *metrics.MigrationMetrics,
	log *slog.Logger,
) (*Orchestrator, error) {
	if err := interfaces.RequireAmount(cfg.FundingAmount); err != nil {
		return nil, fmt.Errorf("funding amount: %w", err)
	}
	if err := cfg.ServiceIdentity.Validate(); err != nil {
		return nil, fmt.Errorf("service identity: %w", err)
	}
	if cfg.ImportChunkSize <= 0 {
		cfg.ImportChunkSize = 1 << 20
	}

	return &Orchestrator{
		cfg:        cfg,
		ledger:     ldgr,
		registry:   reg,
		exporter:   exporter,
		importer:   imp,
		platform:   platform,
		authorizer: authorizer,
		hasher:     hasher,
		archive:    archive,
		migrations: make(map[interfaces.OwnerID]*interfaces.MigrationRecord),
		inflight:   make(map[interfaces.OwnerID]struct{}),
		persist:    persist,
		metrics:    migrationMetrics,
		now:        time.Now,
		log:        log,
	}, nil
}

// RunMigration runs one owner's migration to completion or failure. Only an
// authorization failure is returned as an error; every stage failure is
// written into the migration record and reported as a structured result.
// Repeat calls after completion return the same instance id without touching
// the ledger or the platform; calls while a run is in flight return the
// current status without re-entering the machine.
func (o *Orchestrator) RunMigration(ctx context.Context, caller interfaces.OwnerID) (*Result, error) {
	if err := o.authorizer.EnsureOwner(caller); err != nil {
		return nil, err
	}

	record, proceed := o.admitRun(caller)
	if !proceed {
		return o.resultFor(record), nil
	}
	defer o.finishRun(caller)

	o.metrics.Started()
	o.log.Info("Migration run started",
		slog.String("owner", caller.String()),
		slog.Int("attempt", record.Attempts))

	result := o.run(ctx, caller)
	return result, nil
}

// GetStatus reports the owner's migration record as a structured result.
// Owners with no record get a NotStarted response rather than an error.
func (o *Orchestrator) GetStatus(caller interfaces.OwnerID) (*Result, error) {
	if err := o.authorizer.EnsureOwner(caller); err != nil {
		return nil, err
	}

	o.mu.Lock()
	record := o.migrations[caller].Clone()
	o.mu.Unlock()

	if record == nil {
		return &Result{Success: false, Status: interfaces.StatusNotStarted, Message: "no migration on record"}, nil
	}
	return o.resultFor(record), nil
}

// Records returns a deep copy of every migration record for persistence.
func (o *Orchestrator) Records() map[interfaces.OwnerID]*interfaces.MigrationRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[interfaces.OwnerID]*interfaces.MigrationRecord, len(o.migrations))
	for owner, record := range o.migrations {
		out[owner] = record.Clone()
	}
	return out
}

// Restore replaces the record map from persisted state. Records left in a
// non-terminal stage by a crash are marked Failed so the owner can retry;
// the platform may hold a partially provisioned instance for them, which is
// exactly what the registry entry documents.
func (o *Orchestrator) Restore(records map[interfaces.OwnerID]*interfaces.MigrationRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.migrations = make(map[interfaces.OwnerID]*interfaces.MigrationRecord, len(records))
	for owner, record := range records {
		restored := record.Clone()
		if !restored.Status.IsTerminal() && restored.Status != interfaces.StatusNotStarted {
			o.log.Warn("Migration interrupted by restart, marking failed",
				slog.String("owner", owner.String()),
				slog.String("stage", restored.Status.String()))
			restored.Error = fmt.Sprintf("%s: interrupted by service restart", restored.Status)
			restored.Status = interfaces.StatusFailed
		}
		o.migrations[owner] = restored
	}
}

// admitRun applies the entry contract: Completed short-circuits, a
// non-terminal record or an in-flight run blocks re-entry, Failed or absent
// records reset to NotStarted with the attempt counter incremented. The
// in-flight mark is taken here, under the same lock as the admission
// decision, so two concurrent calls for one owner can never both proceed.
// Returns the record and whether the machine should run.
func (o *Orchestrator) admitRun(owner interfaces.OwnerID) (*interfaces.MigrationRecord, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	record, exists := o.migrations[owner]
	if _, running := o.inflight[owner]; running {
		return record.Clone(), false
	}
	if exists {
		switch {
		case record.Status == interfaces.StatusCompleted:
			return record.Clone(), false
		case record.Status != interfaces.StatusFailed && record.Status != interfaces.StatusNotStarted:
			return record.Clone(), false
		}
		record.Status = interfaces.StatusNotStarted
		record.Attempts++
		record.Error = ""
		record.InstanceID = ""
		record.ResourceCost = nil
		record.CompletedAt = nil
		o.inflight[owner] = struct{}{}
		return record.Clone(), true
	}

	record = &interfaces.MigrationRecord{
		Owner:     owner,
		Status:    interfaces.StatusNotStarted,
		Attempts:  1,
		CreatedAt: o.now().UTC(),
	}
	o.migrations[owner] = record
	o.inflight[owner] = struct{}{}
	return record.Clone(), true
}

// finishRun releases the owner's in-flight mark once the machine has reached
// a terminal state.
func (o *Orchestrator) finishRun(owner interfaces.OwnerID) {
	o.mu.Lock()
	delete(o.inflight, owner)
	o.mu.Unlock()
}

// run drives the stage sequence. Each stage's side effects happen outside
// the record lock; transitions and failures re-acquire it.
func (o *Orchestrator) run(ctx context.Context, owner interfaces.OwnerID) *Result {
	snap, manifest, result := o.stageExport(ctx, owner)
	if result != nil {
		return result
	}

	instanceID, result := o.stageCreate(ctx, owner)
	if result != nil {
		return result
	}

	if result := o.stageInstall(ctx, owner, instanceID); result != nil {
		return result
	}

	imported, result := o.stageImport(ctx, owner, instanceID, snap, manifest)
	if result != nil {
		return result
	}

	if result := o.stageVerify(ctx, owner, instanceID, snap, imported); result != nil {
		return result
	}

	return o.complete(owner, instanceID)
}

func (o *Orchestrator) stageExport(ctx context.Context, owner interfaces.OwnerID) (*export.Snapshot, *export.Manifest, *Result) {
	o.advance(owner, interfaces.StatusExporting)

	snap, err := o.exporter.Export(ctx, owner)
	if err != nil {
		return nil, nil, o.fail(owner, interfaces.StatusExporting, err)
	}
	if err := o.exporter.Validate(snap); err != nil {
		return nil, nil, o.fail(owner, interfaces.StatusExporting, err)
	}
	manifest, err := o.exporter.BuildManifest(snap)
	if err != nil {
		return nil, nil, o.fail(owner, interfaces.StatusExporting, err)
	}

	o.archiveExport(ctx, owner, snap, manifest)
	return snap, manifest, nil
}

// archiveExport stores the validated snapshot and manifest for audit. Best
// effort: an unavailable archive never fails the migration.
func (o *Orchestrator) archiveExport(ctx context.Context, owner interfaces.OwnerID, snap *export.Snapshot, manifest *export.Manifest) {
	if o.archive == nil {
		return
	}

	snapData, err := json.Marshal(snap)
	if err == nil {
		if id, storeErr := o.archive.Store(ctx, snapData, interfaces.SnapshotType); storeErr != nil {
			o.log.Warn("Snapshot archive failed", slog.String("owner", owner.String()), "err", storeErr)
		} else {
			o.log.Info("Snapshot archived", slog.String("owner", owner.String()), slog.String("content", id.String()))
		}
	}

	manifestData, err := json.Marshal(manifest)
	if err == nil {
		if id, storeErr := o.archive.Store(ctx, manifestData, interfaces.ManifestType); storeErr != nil {
			o.log.Warn("Manifest archive failed", slog.String("owner", owner.String()), "err", storeErr)
		} else {
			o.log.Info("Manifest archived", slog.String("owner", owner.String()), slog.String("content", id.String()))
		}
	}
}

// stageCreate admits the funding against the ledger, creates the instance
// under dual control, records it, and only then consumes the funding. The
// registry entry is written before the consume so every consumed amount has
// a matching entry cost even if the process dies in between.
func (o *Orchestrator) stageCreate(ctx context.Context, owner interfaces.OwnerID) (interfaces.InstanceID, *Result) {
	o.advance(owner, interfaces.StatusCreating)

	if err := o.ledger.CheckAdmission(o.cfg.FundingAmount); err != nil {
		o.metrics.AdmissionRejected()
		return "", o.fail(owner, interfaces.StatusCreating, err)
	}

	controllers := []interfaces.OwnerID{o.cfg.ServiceIdentity, owner}
	instanceID, err := o.platform.CreateInstance(ctx, controllers, o.cfg.FundingAmount)
	if err != nil {
		return "", o.fail(owner, interfaces.StatusCreating, err)
	}

	if err := o.registry.Create(instanceID, owner, interfaces.StatusCreating, o.cfg.FundingAmount); err != nil {
		return "", o.fail(owner, interfaces.StatusCreating, err)
	}
	if err := o.ledger.Consume(o.cfg.FundingAmount); err != nil {
		o.setInstance(owner, instanceID)
		return "", o.fail(owner, interfaces.StatusCreating, err)
	}

	o.setInstance(owner, instanceID)
	return instanceID, nil
}

func (o *Orchestrator) stageInstall(ctx context.Context, owner interfaces.OwnerID, instanceID interfaces.InstanceID) *Result {
	o.advance(owner, interfaces.StatusInstalling)
	o.registryStatus(instanceID, interfaces.StatusInstalling)

	initArgs, err := json.Marshal(map[string]string{"owner": owner.String()})
	if err != nil {
		return o.fail(owner, interfaces.StatusInstalling, fmt.Errorf("%w: failed to encode init args: %s", interfaces.ErrInternal, err))
	}
	if err := o.platform.InstallImage(ctx, instanceID, o.cfg.Image, initArgs); err != nil {
		return o.fail(owner, interfaces.StatusInstalling, err)
	}
	return nil
}

// stageImport drives the chunked import protocol with the export snapshot:
// one session, every object chunked and committed, then finalized against
// the manifest.
func (o *Orchestrator) stageImport(ctx context.Context, owner interfaces.OwnerID, instanceID interfaces.InstanceID, snap *export.Snapshot, manifest *export.Manifest) (*importer.Result, *Result) {
	o.advance(owner, interfaces.StatusImporting)
	o.registryStatus(instanceID, interfaces.StatusImporting)

	sessionID, err := o.importer.Begin(owner)
	if err != nil {
		return nil, o.fail(owner, interfaces.StatusImporting, err)
	}

	// Once the session exists, every failure must abort it. A session left
	// Active would block the owner's retries until its TTL expires.
	failImport := func(cause error) (*importer.Result, *Result) {
		if abortErr := o.importer.Abort(owner, sessionID); abortErr != nil {
			// Finalize destroys the session itself on validation failure.
			o.log.Debug("Import session already gone on abort",
				slog.String("owner", owner.String()), "err", abortErr)
		}
		return nil, o.fail(owner, interfaces.StatusImporting, cause)
	}

	if err := o.importer.AttachManifest(owner, sessionID, manifest); err != nil {
		return failImport(err)
	}

	for _, obj := range snap.Objects {
		if err := ctx.Err(); err != nil {
			return failImport(err)
		}
		if err := o.importObject(owner, sessionID, obj); err != nil {
			return failImport(err)
		}
	}

	imported, err := o.importer.Finalize(owner, sessionID)
	if err != nil {
		return failImport(err)
	}
	return imported, nil
}

// importObject sends one object through the chunk protocol.
func (o *Orchestrator) importObject(owner interfaces.OwnerID, sessionID importer.SessionID, obj interfaces.DataObject) error {
	blob, err := export.EncodeObject(obj)
	if err != nil {
		return err
	}

	fragment := importer.ObjectFragment{
		ObjectID:       obj.ID,
		TotalSize:      int64(len(blob)),
		ObjectChecksum: o.hasher.Sum(blob),
	}

	for offset := 0; offset < len(blob) || offset == 0; offset += o.cfg.ImportChunkSize {
		end := offset + o.cfg.ImportChunkSize
		if end > len(blob) {
			end = len(blob)
		}
		piece := blob[offset:end]
		sum := o.hasher.Sum(piece)

		index := fragment.TotalChunks
		if err := o.importer.PutChunk(owner, sessionID, obj.ID, index, piece, sum); err != nil {
			return err
		}
		fragment.ChunkChecksums = append(fragment.ChunkChecksums, sum)
		fragment.TotalChunks++

		if end == len(blob) {
			break
		}
	}

	return o.importer.CommitObject(owner, sessionID, fragment)
}

// stageVerify regenerates the manifest from the snapshot and verifies both
// the snapshot and the imported blobs against it. The importer already
// checked the attached manifest at finalize; this is an independent second
// pass. Schema version compatibility is checked last, then control is handed
// to the owner.
func (o *Orchestrator) stageVerify(ctx context.Context, owner interfaces.OwnerID, instanceID interfaces.InstanceID, snap *export.Snapshot, imported *importer.Result) *Result {
	o.advance(owner, interfaces.StatusVerifying)
	o.registryStatus(instanceID, interfaces.StatusVerifying)

	manifest, err := o.exporter.BuildManifest(snap)
	if err != nil {
		return o.fail(owner, interfaces.StatusVerifying, err)
	}
	if err := o.exporter.Verify(snap, manifest); err != nil {
		return o.fail(owner, interfaces.StatusVerifying, err)
	}

	if imported.ObjectCount != len(snap.Objects) {
		return o.fail(owner, interfaces.StatusVerifying,
			fmt.Errorf("%w: imported %d objects, snapshot has %d", interfaces.ErrInternal, imported.ObjectCount, len(snap.Objects)))
	}
	for _, obj := range snap.Objects {
		blob, ok := imported.Objects[obj.ID]
		if !ok {
			return o.fail(owner, interfaces.StatusVerifying,
				fmt.Errorf("%w: object %s: missing from import", interfaces.ErrInternal, obj.ID))
		}
		decoded, err := export.DecodeObject(blob)
		if err != nil {
			return o.fail(owner, interfaces.StatusVerifying, fmt.Errorf("object %s: %w", obj.ID, err))
		}
		want := export.ObjectChecksum(o.hasher, obj)
		if got := export.ObjectChecksum(o.hasher, decoded); got != want {
			return o.fail(owner, interfaces.StatusVerifying,
				fmt.Errorf("%w: object %s: checksum mismatch: expected %s, actual %s", interfaces.ErrInternal, obj.ID, want, got))
		}
	}

	if snap.Record.SchemaVersion > SupportedSchemaVersion {
		return o.fail(owner, interfaces.StatusVerifying,
			fmt.Errorf("%w: record schema version %d is newer than supported version %d",
				interfaces.ErrInternal, snap.Record.SchemaVersion, SupportedSchemaVersion))
	}

	return o.handoff(ctx, owner, instanceID)
}

// handoff drops the service from the controller set, leaving only the owner.
// The registry entry guards re-entry: the entry must belong to the owner and
// be in Verifying, or already Completed for a safe retry.
func (o *Orchestrator) handoff(ctx context.Context, owner interfaces.OwnerID, instanceID interfaces.InstanceID) *Result {
	entry, err := o.registry.Get(instanceID)
	if err != nil {
		return o.fail(owner, interfaces.StatusVerifying, err)
	}
	if entry.Owner != owner {
		return o.fail(owner, interfaces.StatusVerifying,
			fmt.Errorf("%w: instance %s belongs to %s", interfaces.ErrUnauthorized, instanceID, entry.Owner))
	}
	switch entry.Status {
	case interfaces.StatusCompleted:
		return nil
	case interfaces.StatusVerifying:
	default:
		return o.fail(owner, interfaces.StatusVerifying,
			fmt.Errorf("%w: instance %s is not ready for handoff: status %s", interfaces.ErrConflict, instanceID, entry.Status))
	}

	if err := o.platform.UpdateControllers(ctx, instanceID, []interfaces.OwnerID{owner}); err != nil {
		return o.fail(owner, interfaces.StatusVerifying, err)
	}
	return nil
}

// complete finishes the run: terminal record state, registry mirror, success
// counter.
func (o *Orchestrator) complete(owner interfaces.OwnerID, instanceID interfaces.InstanceID) *Result {
	now := o.now().UTC()

	o.mu.Lock()
	record := o.migrations[owner]
	record.Status = interfaces.StatusCompleted
	record.CompletedAt = &now
	record.ResourceCost = new(uint256.Int).Set(o.cfg.FundingAmount)
	snapshot := record.Clone()
	o.mu.Unlock()

	o.registryStatus(instanceID, interfaces.StatusCompleted)
	o.metrics.Completed()
	o.persistState()

	o.log.Info("Migration completed",
		slog.String("owner", owner.String()),
		slog.String("instance", instanceID.String()),
		slog.Int("attempt", snapshot.Attempts))
	return o.resultFor(snapshot)
}

// advance moves the record to the next stage, enforcing the transition
// table, and persists.
func (o *Orchestrator) advance(owner interfaces.OwnerID, next interfaces.MigrationStatus) {
	o.mu.Lock()
	record := o.migrations[owner]
	if validNext[record.Status] != next {
		// Unreachable while run() follows the table; keep the record honest
		// rather than panicking mid-migration.
		o.log.Error("Invalid stage transition",
			slog.String("owner", owner.String()),
			slog.String("from", record.Status.String()),
			slog.String("to", next.String()))
	}
	record.Status = next
	o.mu.Unlock()

	o.metrics.StageEntered(next)
	o.persistState()
}

// fail records a stage failure and returns the structured failure result.
func (o *Orchestrator) fail(owner interfaces.OwnerID, stage interfaces.MigrationStatus, cause error) *Result {
	o.mu.Lock()
	record := o.migrations[owner]
	record.Status = interfaces.StatusFailed
	record.Error = fmt.Sprintf("%s: %v", stage, cause)
	instanceID := record.InstanceID
	snapshot := record.Clone()
	o.mu.Unlock()

	if instanceID != "" {
		o.registryStatus(instanceID, interfaces.StatusFailed)
	}
	o.metrics.Failed(stage)
	o.persistState()

	o.log.Error("Migration stage failed",
		slog.String("owner", owner.String()),
		slog.String("stage", stage.String()),
		"err", cause)
	return o.resultFor(snapshot)
}

func (o *Orchestrator) setInstance(owner interfaces.OwnerID, instanceID interfaces.InstanceID) {
	o.mu.Lock()
	o.migrations[owner].InstanceID = instanceID
	o.mu.Unlock()
	o.persistState()
}

// registryStatus mirrors the migration stage onto the registry entry. The
// entry may legitimately be absent before Creating succeeds.
func (o *Orchestrator) registryStatus(instanceID interfaces.InstanceID, status interfaces.MigrationStatus) {
	if err := o.registry.UpdateStatus(instanceID, status); err != nil {
		o.log.Warn("Registry status update failed",
			slog.String("instance", instanceID.String()),
			slog.String("status", status.String()),
			"err", err)
	}
}

func (o *Orchestrator) persistState() {
	if o.persist == nil {
		return
	}
	if err := o.persist(); err != nil {
		o.log.Error("State persistence failed", "err", err)
	}
}

func (o *Orchestrator) resultFor(record *interfaces.MigrationRecord) *Result {
	result := &Result{
		Success:    record.Status == interfaces.StatusCompleted,
		Status:     record.Status,
		InstanceID: record.InstanceID,
		Attempts:   record.Attempts,
	}
	switch {
	case record.Error != "":
		result.Message = record.Error
	case record.Status == interfaces.StatusCompleted:
		result.Message = "migration completed"
	default:
		result.Message = fmt.Sprintf("migration %s", record.Status)
	}
	return result
}
