package kv

import db "github.com/aalhour/rockyardkv"

// Batch wraps db.WriteBatch with typed helpers that write to the correct
// column family, so engines never have to juggle raw CF IDs. Every
// compound mutation in spec.md (ZADD rewriting both indices, SADD storing
// N members plus the updated meta, RPOPLPUSH touching two lists) commits
// through exactly one Batch.
type Batch struct {
	store *Store
	inner *db.WriteBatch
}

// NewBatch creates an empty batch for this store.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s, inner: db.NewWriteBatch()}
}

// PutMeta stages a meta-value write.
func (b *Batch) PutMeta(key string, value []byte) {
	b.inner.PutCF(b.store.metaCF.ID(), []byte(key), value)
}

// DeleteMeta stages a meta-value delete.
func (b *Batch) DeleteMeta(key string) {
	b.inner.DeleteCF(b.store.metaCF.ID(), []byte(key))
}

// PutData stages a data-record write.
func (b *Batch) PutData(dataKey, value []byte) {
	b.inner.PutCF(b.store.dataCF.ID(), dataKey, value)
}

// DeleteData stages a data-record delete.
func (b *Batch) DeleteData(dataKey []byte) {
	b.inner.DeleteCF(b.store.dataCF.ID(), dataKey)
}

// DeleteDataRange stages a range delete over [begin, end) in the data CF,
// used by LTRIM and by SPOP/SREM-triggered small compactions to drop a
// whole obsolete key range in one batch rather than one delete per member.
func (b *Batch) DeleteDataRange(begin, end []byte) {
	b.inner.DeleteRangeCF(b.store.dataCF.ID(), begin, end)
}

// Write commits the batch atomically.
func (b *Batch) Write() error {
	return b.store.db.Write(db.DefaultWriteOptions(), b.inner)
}
