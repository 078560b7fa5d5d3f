package edelta

// SnapshotView serves the committed state of entities as of the start of a
// unit of work. Load returns nil (and no error) when the object does not
// exist in the view. Objects returned by Load must not be shared with the
// live graph.
type SnapshotView interface {
	Load(id ObjectID) (any, error)
}

// AuditSink receives the audit entries of a completed unit of work, in
// delta-tree order.
type AuditSink interface {
	AppendAudit(entries []AuditEntry) error
}
