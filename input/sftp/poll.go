package sftp

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/c360/sftpstreams/errors"
	"github.com/c360/sftpstreams/idempotent"
	"github.com/c360/sftpstreams/message"
	"github.com/c360/sftpstreams/pkg/retry"
	remote "github.com/c360/sftpstreams/sftp"
)

// remoteFile is a listed entry accepted for the current cycle.
type remoteFile struct {
	info    remote.FileInfo
	dir     string
	path    string
	seenKey string
}

// fetched pairs a remote file with the messages built from it.
type fetched struct {
	file remoteFile
	msgs []*message.Message
}

func messagesOf(batch []fetched) []*message.Message {
	var out []*message.Message
	for _, f := range batch {
		out = append(out, f.msgs...)
	}
	return out
}

func serverLabel(key string) string {
	if key == "" {
		return "default"
	}
	return key
}

// poll runs one cycle: select the target, list and read new files, decorate,
// publish, then report the result to the rotation.
func (u *Input) poll(ctx context.Context) error {
	start := u.clock.Now()
	key, dir := "", u.cfg.RemoteDir
	if u.orchestrator != nil {
		target, ok := u.orchestrator.BeforeTick()
		if !ok {
			return nil
		}
		key, dir = target.Key, target.Directory
	}
	server := serverLabel(key)
	if u.metrics != nil {
		u.metrics.polls.WithLabelValues(server).Inc()
		defer func() { u.metrics.pollDuration.Observe(u.clock.Since(start).Seconds()) }()
	}

	fail := func(err error) error {
		u.recordError(err)
		if u.metrics != nil {
			u.metrics.pollErrors.WithLabelValues(server).Inc()
		}
		if u.orchestrator != nil {
			u.orchestrator.AbortTick(err)
		}
		return err
	}

	session, err := u.sessions.Session(ctx, key)
	if err != nil {
		return fail(errors.Wrap(err, "sftp-source", "poll", "open session for "+server))
	}
	defer session.Close()

	batch, err := u.fetch(ctx, session, key, dir)
	if err != nil {
		return fail(err)
	}
	if u.orchestrator != nil {
		if err := u.orchestrator.AfterTick(messagesOf(batch)); err != nil {
			return fail(err)
		}
	}

	emitted, err := u.emit(ctx, session, batch)
	if u.orchestrator != nil {
		policy := u.orchestrator.Policy()
		before := policy.Index()
		u.orchestrator.FinalizeTick(emitted > 0)
		if u.metrics != nil && policy.Index() != before {
			u.metrics.rotations.Inc()
		}
	}
	if u.metrics != nil && emitted > 0 {
		u.metrics.filesEmitted.WithLabelValues(server).Add(float64(emitted))
	}
	return err
}

// fetch lists dir and builds messages for up to max_fetch new files.
func (u *Input) fetch(ctx context.Context, session remote.Session, key, dir string) ([]fetched, error) {
	entries, err := session.List(dir)
	if err != nil {
		return nil, errors.Wrap(err, "sftp-source", "fetch", "list "+dir)
	}

	var batch []fetched
	for _, info := range entries {
		if !u.filter.Accept(info) {
			continue
		}
		if u.cfg.MaxFetch > 0 && len(batch) >= u.cfg.MaxFetch {
			break
		}
		seenKey := idempotent.Key(dir, info.Name)
		fresh, err := u.seen.ShouldEmit(ctx, seenKey)
		if err != nil {
			return nil, err
		}
		if !fresh {
			continue
		}

		f := remoteFile{
			info:    info,
			dir:     dir,
			path:    remote.Join(dir, info.Name, u.cfg.RemoteFileSeparator),
			seenKey: seenKey,
		}
		msgs, err := u.read(ctx, session, key, f)
		if stderrors.Is(err, errors.ErrRemoteFileNotFound) {
			u.logger.Warn("Remote file vanished before it was read", "path", f.path)
			continue
		}
		if err != nil && !errors.IsTransient(err) {
			// The file stays unseen and is retried next cycle; the rest of the batch goes out.
			u.recordError(err)
			if u.metrics != nil {
				u.metrics.fileErrors.WithLabelValues(serverLabel(key)).Inc()
			}
			u.logger.Error("Skipping remote file", "path", f.path, "error", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		batch = append(batch, fetched{file: f, msgs: msgs})
	}
	return batch, nil
}

func (u *Input) fileMessage(f remoteFile, payload []byte) *message.Message {
	return message.New(payload).
		Set(message.HeaderRemoteDirectory, f.dir).
		Set(message.HeaderRemoteFile, f.path).
		Set(message.HeaderFilename, f.info.Name).
		Set(message.HeaderRemoteFileSize, f.info.Size).
		Set(message.HeaderRemoteModified, f.info.ModTime.UnixMilli())
}

// read builds the messages for one file according to the source mode.
func (u *Input) read(ctx context.Context, session remote.Session, key string, f remoteFile) ([]*message.Message, error) {
	switch {
	case u.cfg.ListOnly:
		return []*message.Message{u.fileMessage(f, []byte(f.info.Name))}, nil

	case u.cfg.Stream:
		data, err := readRemote(session, f.path)
		if err != nil {
			return nil, err
		}
		msg := u.fileMessage(f, data).Set(message.HeaderContentType, "application/octet-stream")
		return []*message.Message{msg}, nil

	case u.transfers != nil:
		msg := u.fileMessage(f, []byte(f.info.Name))
		if key != "" {
			msg.Set(message.HeaderSelectedServer, key)
		}
		out, err := u.transfers.Transfer(ctx, msg)
		if err != nil {
			return nil, err
		}
		return []*message.Message{out}, nil
	}

	local, err := u.syncFile(session, f)
	if err != nil {
		return nil, err
	}
	switch u.cfg.Mode {
	case ModeContents:
		data, err := afero.ReadFile(u.fs, local)
		if err != nil {
			return nil, errors.WrapFatal(err, "sftp-source", "read", "read "+local)
		}
		return []*message.Message{u.fileMessage(f, data).Set(message.HeaderOriginalFile, local)}, nil
	case ModeLines:
		return u.lineMessages(f, local)
	default:
		return []*message.Message{u.fileMessage(f, []byte(local)).Set(message.HeaderOriginalFile, local)}, nil
	}
}

func readRemote(session remote.Session, path string) ([]byte, error) {
	r, err := session.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WrapTransient(err, "sftp-source", "readRemote", "read "+path)
	}
	return data, nil
}

// syncFile copies the remote file into local_dir through a temporary name and
// returns the local path.
func (u *Input) syncFile(session remote.Session, f remoteFile) (string, error) {
	local := filepath.Join(u.cfg.LocalDir, f.info.Name)
	tmp := local + u.cfg.TmpFileSuffix

	src, err := session.Open(f.path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := u.fs.Create(tmp)
	if err != nil {
		return "", errors.WrapFatal(err, "sftp-source", "syncFile", "create "+tmp)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = u.fs.Remove(tmp)
		return "", errors.WrapTransient(err, "sftp-source", "syncFile", "copy "+f.path)
	}
	if err := dst.Close(); err != nil {
		_ = u.fs.Remove(tmp)
		return "", errors.WrapFatal(err, "sftp-source", "syncFile", "close "+tmp)
	}
	if err := u.fs.Rename(tmp, local); err != nil {
		return "", errors.WrapFatal(err, "sftp-source", "syncFile", "rename "+tmp)
	}

	if u.cfg.PreserveTimestamp && !f.info.ModTime.IsZero() {
		if err := u.fs.Chtimes(local, f.info.ModTime, f.info.ModTime); err != nil {
			u.logger.Warn("Could not preserve remote timestamp", "path", local, "error", err)
		}
	}
	return local, nil
}

func (u *Input) lineMessages(f remoteFile, local string) ([]*message.Message, error) {
	file, err := u.fs.Open(local)
	if err != nil {
		return nil, errors.WrapFatal(err, "sftp-source", "lineMessages", "open "+local)
	}
	defer file.Close()

	var msgs []*message.Message
	r := bufio.NewReader(file)
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			line = bytes.TrimSuffix(bytes.TrimSuffix(line, []byte("\n")), []byte("\r"))
			msgs = append(msgs, u.fileMessage(f, line).Set(message.HeaderOriginalFile, local))
		}
		if err == io.EOF {
			return msgs, nil
		}
		if err != nil {
			return nil, errors.WrapFatal(err, "sftp-source", "lineMessages", "split "+local)
		}
	}
}

// emit publishes the batch and returns how many files were delivered. A file
// counts as delivered once all its messages are published; only then is it
// marked seen and, if configured, removed from the server.
func (u *Input) emit(ctx context.Context, session remote.Session, batch []fetched) (int, error) {
	emitted := 0
	var firstErr error
	for _, item := range batch {
		if err := u.publishAll(ctx, item.msgs); err != nil {
			u.recordError(err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		emitted++

		if err := u.seen.MarkSeen(ctx, item.file.seenKey); err != nil {
			u.recordError(err)
			u.logger.Warn("Could not record delivered file", "key", item.file.seenKey, "error", err)
		}
		if u.cfg.DeleteRemoteFiles && !u.cfg.ListOnly {
			if err := session.Remove(item.file.path); err != nil {
				u.logger.Warn("Could not delete remote file", "path", item.file.path, "error", err)
			}
		}
		u.logger.Debug("Emitted remote file", "path", item.file.path, "messages", len(item.msgs))
	}
	return emitted, firstErr
}

func (u *Input) publishAll(ctx context.Context, msgs []*message.Message) error {
	for _, msg := range msgs {
		out := msg
		if u.launcher != nil {
			var err error
			if out, err = u.launcher.Build(msg); err != nil {
				return err
			}
		}
		if err := u.publish(ctx, out); err != nil {
			return err
		}
	}
	return nil
}

// publish sends one message with retry
func (u *Input) publish(ctx context.Context, msg *message.Message) error {
	natsMsg := msg.ToNATS(u.cfg.Subject)
	err := retry.Do(ctx, u.retryConfig, func() error {
		return u.publisher.PublishMsg(ctx, natsMsg)
	})
	if err != nil {
		return errors.WrapTransient(fmt.Errorf("publish to %s: %w", u.cfg.Subject, err),
			"sftp-source", "publish", "NATS publish")
	}

	now := u.clock.Now()
	u.messagesPublished.Add(1)
	u.bytesPublished.Add(int64(len(natsMsg.Data)))
	u.lastActivity.Store(now)
	if u.metrics != nil {
		u.metrics.lastActivity.Set(float64(now.Unix()))
	}
	return nil
}
