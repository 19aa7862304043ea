package syncbridge

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/quic-go/quic-go"
)

// quicConfig returns the QUIC config used for document transfers.
func quicConfig() *quic.Config {
	return &quic.Config{
		MaxStreamReceiveWindow:     MaxDocumentSize,
		MaxConnectionReceiveWindow: MaxDocumentSize,
		MaxIdleTimeout:             2 * time.Minute,
		KeepAlivePeriod:            30 * time.Second,
		Allow0RTT:                  false,
	}
}

// PushDocument sends a document to a remote subscriber over QUIC.
//
// Wire format:
//  1. Magic bytes "FEN1" (4 bytes)
//  2. Meta length (4 bytes big-endian uint32)
//  3. Meta JSON (variable)
//  4. Document bytes (gzip-compressed if meta.Compressed, raw otherwise)
func PushDocument(ctx context.Context, endpoint string, tlsCfg *tls.Config, meta DocMeta, payload []byte) error {
	conn, err := quic.DialAddr(ctx, endpoint, tlsCfg, quicConfig())
	if err != nil {
		return fmt.Errorf("syncbridge push: dial %s: %w", endpoint, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(1, "open stream failed")
		return fmt.Errorf("syncbridge push: open stream: %w", err)
	}

	if _, err := stream.Write([]byte(MagicBytes)); err != nil {
		conn.CloseWithError(1, "write failed")
		return fmt.Errorf("syncbridge push: magic: %w", err)
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		conn.CloseWithError(1, "marshal failed")
		return fmt.Errorf("syncbridge push: marshal meta: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(metaJSON)))
	if _, err := stream.Write(lenBuf[:]); err != nil {
		conn.CloseWithError(1, "write failed")
		return fmt.Errorf("syncbridge push: meta len: %w", err)
	}
	if _, err := stream.Write(metaJSON); err != nil {
		conn.CloseWithError(1, "write failed")
		return fmt.Errorf("syncbridge push: meta: %w", err)
	}

	if meta.Compressed {
		gw := gzip.NewWriter(stream)
		if _, err := io.Copy(gw, bytes.NewReader(payload)); err != nil {
			conn.CloseWithError(1, "write failed")
			return fmt.Errorf("syncbridge push: gzip copy: %w", err)
		}
		if err := gw.Close(); err != nil {
			conn.CloseWithError(1, "gzip close failed")
			return fmt.Errorf("syncbridge push: gzip close: %w", err)
		}
	} else {
		if _, err := stream.Write(payload); err != nil {
			conn.CloseWithError(1, "write failed")
			return fmt.Errorf("syncbridge push: copy data: %w", err)
		}
	}

	// Stream FIN first; an immediate CONNECTION_CLOSE would abort the
	// peer's pending reads.
	stream.Close()
	time.Sleep(200 * time.Millisecond)
	conn.CloseWithError(0, "done")
	return nil
}

// ListenDocuments accepts incoming QUIC connections carrying documents. For
// each connection it reads the wire format and calls handler with the parsed
// metadata and a reader for the raw document bytes. Blocks until ctx is
// cancelled.
func ListenDocuments(ctx context.Context, addr string, tlsCfg *tls.Config, handler func(DocMeta, io.Reader) error) error {
	listener, err := quic.ListenAddr(addr, tlsCfg, quicConfig())
	if err != nil {
		return fmt.Errorf("syncbridge listen: %w", err)
	}
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("syncbridge listen: accept: %w", err)
		}

		go func() {
			defer conn.CloseWithError(0, "done")
			if err := handleIncoming(ctx, conn, handler); err != nil {
				slog.Error("syncbridge listen: handler error", "error", err, "remote", conn.RemoteAddr())
				conn.CloseWithError(1, err.Error())
			}
		}()
	}
}

// handleIncoming reads the wire format from a single QUIC connection.
func handleIncoming(ctx context.Context, conn *quic.Conn, handler func(DocMeta, io.Reader) error) error {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		return fmt.Errorf("accept stream: %w", err)
	}
	defer stream.Close()

	magic := make([]byte, len(MagicBytes))
	if _, err := io.ReadFull(stream, magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != MagicBytes {
		return fmt.Errorf("invalid magic: %q", magic)
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(stream, lenBuf[:]); err != nil {
		return fmt.Errorf("read meta len: %w", err)
	}
	metaLen := binary.BigEndian.Uint32(lenBuf[:])
	if metaLen > 1024*1024 {
		return fmt.Errorf("meta too large: %d bytes", metaLen)
	}

	metaBuf := make([]byte, metaLen)
	if _, err := io.ReadFull(stream, metaBuf); err != nil {
		return fmt.Errorf("read meta: %w", err)
	}

	var meta DocMeta
	if err := json.Unmarshal(metaBuf, &meta); err != nil {
		return fmt.Errorf("unmarshal meta: %w", err)
	}
	if meta.Size > MaxDocumentSize {
		return fmt.Errorf("document too large: %d bytes", meta.Size)
	}

	var reader io.Reader
	if meta.Compressed {
		gr, err := gzip.NewReader(stream)
		if err != nil {
			return fmt.Errorf("gzip reader: %w", err)
		}
		defer gr.Close()
		reader = io.LimitReader(gr, meta.Size)
	} else {
		reader = io.LimitReader(stream, meta.Size)
	}

	return handler(meta, reader)
}
