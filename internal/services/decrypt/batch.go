package decrypt

import (
	"context"

	"github.com/ternarybob/jcx/internal/jenkins"
	"github.com/ternarybob/jcx/internal/models"
	"github.com/ternarybob/jcx/internal/services/workers"
)

// batch decrypts chunks of records with one composite script per chunk.
// A failed chunk is split in halves, and a failed half falls back to
// individual calls, so one bad record never fails its neighbours.
type batch struct{}

func (batch) Name() models.StrategyName {
	return models.StrategyBatch
}

func (b batch) Execute(ctx context.Context, r *remote, records []models.CredentialRecord, emit Emit) {
	chunks := Chunk(records, r.profile.Batch)

	pool := workers.NewPool(ctx, WorkerCount(r.profile, len(chunks)), r.logger)
	pool.Start()

	r.logger.Debug().
		Int("records", len(records)).
		Int("chunks", len(chunks)).
		Int("workers", pool.Size()).
		Msg("Dispatching batch chunks")

	for i, chunk := range chunks {
		chunk := chunk
		if err := pool.Submit(func(ctx context.Context) {
			b.process(ctx, r, chunk, false, emit)
		}); err != nil {
			for _, rest := range chunks[i:] {
				cancelRemaining(rest, err, emit)
			}
			pool.Shutdown()
			return
		}
	}

	pool.Wait()
}

func (b batch) process(ctx context.Context, r *remote, chunk []models.CredentialRecord, halved bool, emit Emit) {
	if len(chunk) == 1 {
		emit(r.decryptOne(ctx, chunk[0]))
		return
	}

	entries, err := r.decryptChunk(ctx, chunk)
	if err != nil {
		if !splittable(err) {
			for _, rec := range chunk {
				emit(models.FailedWith(rec.ID, err))
			}
			return
		}

		r.logger.Debug().
			Int("records", len(chunk)).
			Str("kind", string(models.KindOf(err))).
			Bool("halved", halved).
			Msg("Chunk failed, splitting")

		if halved {
			b.individually(ctx, r, chunk, emit)
			return
		}

		mid := len(chunk) / 2
		b.process(ctx, r, chunk[:mid], true, emit)
		b.process(ctx, r, chunk[mid:], true, emit)
		return
	}

	var unparsed []models.CredentialRecord
	for i, entry := range entries {
		switch {
		case entry.OK():
			emit(models.Decrypted(chunk[i].ID, entry.Plaintext))
		case entry.Err.Kind == models.KindBatchParse:
			unparsed = append(unparsed, chunk[i])
		default:
			emit(models.FailedWith(chunk[i].ID, entry.Err))
		}
	}

	if len(unparsed) > 0 {
		r.logger.Debug().Int("records", len(unparsed)).Msg("Retrying unparsed chunk entries individually")
		b.individually(ctx, r, unparsed, emit)
	}
}

func (batch) individually(ctx context.Context, r *remote, records []models.CredentialRecord, emit Emit) {
	for _, rec := range records {
		emit(r.decryptOne(ctx, rec))
	}
}

// splittable reports whether a smaller request could succeed where the chunk
// failed. Rejected authentication, cancellation and an open circuit affect
// every request equally.
func splittable(err error) bool {
	switch models.KindOf(err) {
	case models.KindInvalidCredentials, models.KindCancelled, models.KindCircuitOpen:
		return false
	default:
		return true
	}
}

// Chunk splits records into chunks that respect both the script size budget
// and the chunk size cap. Order is preserved and every chunk holds at least
// one record.
func Chunk(records []models.CredentialRecord, cfg models.BatchConfig) [][]models.CredentialRecord {
	maxBytes := cfg.MaxScriptBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxScriptBytes
	}
	maxSize := cfg.MaxChunkSize
	if maxSize <= 0 {
		maxSize = DefaultMaxChunkSize
	}

	var (
		chunks  [][]models.CredentialRecord
		current []models.CredentialRecord
		size    = jenkins.ScriptOverhead()
	)

	for _, rec := range records {
		cost := jenkins.EntryCost(rec.Ciphertext)
		if len(current) > 0 && (len(current) >= maxSize || size+cost > maxBytes) {
			chunks = append(chunks, current)
			current = nil
			size = jenkins.ScriptOverhead()
		}
		current = append(current, rec)
		size += cost
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	return chunks
}
