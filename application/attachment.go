package application

// AttachmentWatch is a filesystem-change notification the attachment
// manager reacts to (spec.md section 4.5): a path that changed or was
// removed, plus whether it should be treated as a deletion.
type AttachmentWatch struct {
	RelativePath string
	Deleted      bool
}

// AttachmentWatcher abstracts the desktop fsnotify-backed watcher and the
// Android polling scanner behind one interface, per the Open Question
// decision in SPEC_FULL.md: a future file-observer-backed Android
// implementation is a drop-in replacement.
type AttachmentWatcher interface {
	Watch() <-chan AttachmentWatch
	Suppress(relativePath string)
	Close() error
}
