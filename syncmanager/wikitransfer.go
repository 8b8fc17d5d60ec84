package syncmanager

import (
	"context"
	"path/filepath"

	"tiddlysync/domain/message"
	"tiddlysync/infrastructure/wikitransfer"
)

func (m *Manager) onRequestWikiFile(ctx context.Context, peerID string, env message.Envelope) {
	req, err := decode[message.RequestWikiFile](env)
	if err != nil {
		m.logger.Printf("sync: malformed RequestWikiFile from %s: %v", peerID, err)
		return
	}
	st, ok := m.wikis[req.WikiID]
	if !ok || st.transferSender == nil {
		m.logger.Printf("sync: %s requested bootstrap transfer of unknown wiki %s", peerID, req.WikiID)
		return
	}

	m.pool.Go(func() error {
		chunks, errc := st.transferSender.Walk(ctx, req.WikiID, req.HaveFiles)
		for chunk := range chunks {
			chunkEnv, err := message.Encode(message.TypeWikiFileChunk, chunk)
			if err != nil {
				continue
			}
			if err := m.router.SendToPeerAny(ctx, peerID, chunkEnv); err != nil {
				m.logger.Printf("sync: send wiki file chunk %d of %s: %v", chunk.Idx, chunk.Filename, err)
				return nil
			}
		}
		select {
		case err := <-errc:
			if err != nil {
				m.logger.Printf("sync: walk wiki %s for bootstrap transfer: %v", req.WikiID, err)
				return nil
			}
		default:
		}
		doneEnv, err := message.Encode(message.TypeWikiFileComplete, message.WikiFileComplete{WikiID: req.WikiID})
		if err != nil {
			return nil
		}
		if err := m.router.SendToPeerAny(ctx, peerID, doneEnv); err != nil {
			m.logger.Printf("sync: send WikiFileComplete for %s: %v", req.WikiID, err)
		}
		return nil
	})
}

// ensureTransferReceiver lazily creates the wikitransfer.Receiver for an
// inbound bootstrap transfer whose wiki isn't registered with a local
// editor yet (the common case: a freshly joined device has no wiki of
// its own until a peer streams one in). The file lands under
// baseWikisDir/<wiki_id>/, and registerEarly tells the editor shell a
// new wiki folder exists as soon as the main HTML document has arrived,
// matching wikitransfer.Receiver's own early-registration contract.
func (m *Manager) ensureTransferReceiver(wikiID string) *wikitransfer.Receiver {
	if st, ok := m.wikis[wikiID]; ok && st.transferReceiver != nil {
		return st.transferReceiver
	}
	rootDir := filepath.Join(m.baseWikisDir, wikiID)
	receiver := wikitransfer.NewReceiver(rootDir, func(id string) error {
		return m.editorBridge.EmitToEditors(id, bridgeEventWikiBootstrapped, rootDir)
	}, m.logger)

	st, ok := m.wikis[wikiID]
	if !ok {
		st = &wikiState{rootDir: rootDir}
		m.wikis[wikiID] = st
	}
	st.transferReceiver = receiver
	return receiver
}

func (m *Manager) onWikiFileChunk(env message.Envelope) {
	chunk, err := decode[message.WikiFileChunk](env)
	if err != nil {
		m.logger.Printf("sync: malformed WikiFileChunk: %v", err)
		return
	}
	receiver := m.ensureTransferReceiver(chunk.WikiID)
	if err := receiver.HandleChunk(chunk); err != nil {
		m.logger.Printf("sync: wiki bootstrap chunk %d of %s: %v", chunk.Idx, chunk.Filename, err)
	}
}

func (m *Manager) onWikiFileComplete(env message.Envelope) {
	complete, err := decode[message.WikiFileComplete](env)
	if err != nil {
		m.logger.Printf("sync: malformed WikiFileComplete: %v", err)
		return
	}
	st, ok := m.wikis[complete.WikiID]
	if !ok || st.transferReceiver == nil {
		return
	}
	if err := st.transferReceiver.HandleComplete(complete); err != nil {
		m.logger.Printf("sync: finish wiki bootstrap transfer for %s: %v", complete.WikiID, err)
	}
}
