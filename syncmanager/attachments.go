package syncmanager

import (
	"context"

	"tiddlysync/application"
	"tiddlysync/domain/message"
	"tiddlysync/infrastructure/attachment"
)

// onLocalAttachmentWatch reacts to the local filesystem watcher noticing
// one of wikiID's attachment files changed, fanning the result out to
// every peer in the wiki's room. Deletions are cheap (one small message);
// changes go through the same hash-and-stream path a peer's explicit
// request would use.
func (m *Manager) onLocalAttachmentWatch(ctx context.Context, wikiID string, ev application.AttachmentWatch) {
	st, ok := m.wikis[wikiID]
	if !ok {
		return
	}
	code := m.roomOf(wikiID)
	if code == "" {
		return
	}

	if ev.Deleted {
		env, err := message.Encode(message.TypeAttachmentDeleted, message.AttachmentDeleted{WikiID: wikiID, Filename: ev.RelativePath})
		if err != nil {
			return
		}
		for _, err := range m.router.Broadcast(ctx, code.String(), env, m.deviceID) {
			m.logger.Printf("sync: broadcast attachment deletion %s for wiki %s: %v", ev.RelativePath, wikiID, err)
		}
		return
	}

	if st.attachSender == nil {
		return
	}
	for _, conn := range m.router.Peers() {
		if conn.AuthRoomCode != code || conn.DeviceID == m.deviceID {
			continue
		}
		m.streamAttachment(ctx, st.attachSender, wikiID, ev.RelativePath, conn.DeviceID)
	}
}

func (m *Manager) onAttachmentChanged(env message.Envelope) {
	header, err := decode[message.AttachmentChanged](env)
	if err != nil {
		m.logger.Printf("sync: malformed AttachmentChanged: %v", err)
		return
	}
	st, ok := m.wikis[header.WikiID]
	if !ok || st.attachReceiver == nil {
		return
	}
	if err := st.attachReceiver.HandleAttachmentChanged(header); err != nil {
		m.logger.Printf("sync: attachment %s for wiki %s: %v", header.Filename, header.WikiID, err)
	}
}

func (m *Manager) onAttachmentChunk(env message.Envelope) {
	chunk, err := decode[message.AttachmentChunk](env)
	if err != nil {
		m.logger.Printf("sync: malformed AttachmentChunk: %v", err)
		return
	}
	st, ok := m.wikis[chunk.WikiID]
	if !ok || st.attachReceiver == nil {
		return
	}
	if _, err := st.attachReceiver.HandleAttachmentChunk(chunk); err != nil {
		m.logger.Printf("sync: attachment chunk %d of %s for wiki %s: %v", chunk.Idx, chunk.Filename, chunk.WikiID, err)
	}
}

func (m *Manager) onAttachmentDeleted(env message.Envelope) {
	deleted, err := decode[message.AttachmentDeleted](env)
	if err != nil {
		m.logger.Printf("sync: malformed AttachmentDeleted: %v", err)
		return
	}
	st, ok := m.wikis[deleted.WikiID]
	if !ok || st.attachReceiver == nil {
		return
	}
	if err := st.attachReceiver.HandleAttachmentDeleted(deleted); err != nil {
		m.logger.Printf("sync: delete attachment %s for wiki %s: %v", deleted.Filename, deleted.WikiID, err)
	}
}

// onAttachmentManifest compares a peer's blob listing against nothing we
// track locally (the core doesn't hash-index attachments at rest, the
// watcher/scanner only reports changes) and simply asks for every file
// named, letting Sender.Prepare on the peer's side do the real
// already-have check when it streams AttachmentChanged's header. This
// trades a redundant manifest round trip for not needing a second
// content-addressed index alongside the fingerprint cache.
func (m *Manager) onAttachmentManifest(ctx context.Context, peerID string, env message.Envelope) {
	manifest, err := decode[message.AttachmentManifest](env)
	if err != nil {
		m.logger.Printf("sync: malformed AttachmentManifest from %s: %v", peerID, err)
		return
	}
	if len(manifest.Files) == 0 {
		return
	}
	files := make([]string, 0, len(manifest.Files))
	for _, f := range manifest.Files {
		files = append(files, f.Path)
	}
	reqEnv, err := message.Encode(message.TypeRequestAttachments, message.RequestAttachments{WikiID: manifest.WikiID, Files: files})
	if err != nil {
		m.logger.Printf("sync: encode RequestAttachments: %v", err)
		return
	}
	if err := m.router.SendToPeerAny(ctx, peerID, reqEnv); err != nil {
		m.logger.Printf("sync: request attachments from %s: %v", peerID, err)
	}
}

func (m *Manager) onRequestAttachments(ctx context.Context, peerID string, env message.Envelope) {
	req, err := decode[message.RequestAttachments](env)
	if err != nil {
		m.logger.Printf("sync: malformed RequestAttachments from %s: %v", peerID, err)
		return
	}
	st, ok := m.wikis[req.WikiID]
	if !ok || st.attachSender == nil {
		return
	}
	for _, relativePath := range req.Files {
		m.streamAttachment(ctx, st.attachSender, req.WikiID, relativePath, peerID)
	}
}

// streamAttachment hashes and streams one attachment on the errgroup
// pool, per spec.md section 5's "blocking thread-pool work ... dispatched
// via errgroup.Group.Go" — SHA-256 over a potentially large file and its
// chunked re-read must never block the event loop.
func (m *Manager) streamAttachment(ctx context.Context, sender *attachment.Sender, wikiID, relativePath, peerID string) {
	m.pool.Go(func() error {
		header, err := sender.Prepare(wikiID, relativePath)
		if err != nil {
			m.logger.Printf("sync: prepare attachment %s: %v", relativePath, err)
			return nil
		}
		headerEnv, err := message.Encode(message.TypeAttachmentChanged, header)
		if err != nil {
			return nil
		}
		if err := m.router.SendToPeerAny(ctx, peerID, headerEnv); err != nil {
			m.logger.Printf("sync: send attachment header for %s: %v", relativePath, err)
			return nil
		}

		chunks, errc := sender.Stream(ctx, wikiID, relativePath)
		for chunk := range chunks {
			chunkEnv, err := message.Encode(message.TypeAttachmentChunk, chunk)
			if err != nil {
				continue
			}
			if err := m.router.SendToPeerAny(ctx, peerID, chunkEnv); err != nil {
				m.logger.Printf("sync: send attachment chunk %d of %s: %v", chunk.Idx, relativePath, err)
				return nil
			}
		}
		// errc is only ever written to on failure and is never closed, so
		// a non-blocking read is the only way to check it once chunks has
		// drained without risking a permanent block on the success path.
		select {
		case err := <-errc:
			if err != nil {
				m.logger.Printf("sync: stream attachment %s: %v", relativePath, err)
			}
		default:
		}
		return nil
	})
}
