package requests

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"studiodesk/internal/content"
	"studiodesk/internal/filestore"
	"studiodesk/internal/models"
	"studiodesk/internal/storage"

	"github.com/stretchr/testify/require"
)

const pngBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

type fixture struct {
	svc   *Service
	store *storage.BboltStorage
	files *filestore.LocalFileStore
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewBboltStorage(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	files, err := filestore.NewLocalFileStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	svc := NewService(store, files, store, nil)
	svc.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return fixture{svc: svc, store: store, files: files}
}

func TestService_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.CreateDesign(ctx, "client", Draft{Name: "  <b>Poster</b> ", Description: "A3 <script>x</script>"})
	require.NoError(t, err)
	require.Equal(t, "Poster", req.Name)
	require.Equal(t, models.RequestStatusPending, req.Status)
	require.Equal(t, models.RequestKindDesign, req.Kind)
	require.NotContains(t, req.Description, "script")
	require.False(t, req.CreatedAt.IsZero())

	_, err = f.svc.SendMessage(ctx, req.Kind, req.ID, "client", "hi")
	require.ErrorIs(t, err, ErrPending)

	require.ErrorIs(t, f.svc.SetStatus(ctx, req.Kind, req.ID, models.RequestStatusComplete), ErrInvalidStatus)
	require.NoError(t, f.svc.Accept(ctx, req.Kind, req.ID, "designer"))
	require.ErrorIs(t, f.svc.Accept(ctx, req.Kind, req.ID, "designer"), ErrInvalidStatus)

	got, err := f.svc.Get(ctx, req.Kind, req.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusAccepted, got.Status)
	require.Equal(t, "designer", got.ExecutedBy)

	require.NoError(t, f.svc.SetStatus(ctx, req.Kind, req.ID, models.RequestStatusComplete))
	require.NoError(t, f.svc.SetStatus(ctx, req.Kind, req.ID, models.RequestStatusFinished))
	require.ErrorIs(t, f.svc.SetStatus(ctx, req.Kind, req.ID, models.RequestStatusPending), ErrInvalidStatus)

	_, err = f.svc.Get(ctx, req.Kind, "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.svc.Create(ctx, "invoice", "client", Draft{Name: "x"})
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestService_Production(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.CreateProduction(ctx, "client", Draft{Name: "Mugs"})
	require.NoError(t, err)
	require.Equal(t, "Mugs", req.Name)

	doc, err := f.store.Get(ctx, "productions/"+req.ID)
	require.NoError(t, err)
	require.Equal(t, "Mugs", doc.String("title"))
}

func TestService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, owner := range []string{"a", "b", "a"} {
		_, err := f.svc.CreateDesign(ctx, owner, Draft{Name: "design of " + owner})
		require.NoError(t, err)
	}

	own, err := f.svc.List(ctx, models.RequestKindDesign, "a", models.RoleClient)
	require.NoError(t, err)
	require.Len(t, own, 2)
	for _, r := range own {
		require.Equal(t, "a", r.CreatedBy)
	}

	all, err := f.svc.List(ctx, models.RequestKindDesign, "admin", models.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, all, 3)

	_, err = f.svc.List(ctx, "nope", "a", models.RoleClient)
	require.ErrorIs(t, err, ErrInvalidKind)
}

func TestService_Messages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.CreateDesign(ctx, "client", Draft{Name: "Poster"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Accept(ctx, req.Kind, req.ID, "designer"))

	_, err = f.svc.SendMessage(ctx, req.Kind, req.ID, "stranger", "hi")
	require.ErrorIs(t, err, ErrNotParticipant)
	_, err = f.svc.SendMessage(ctx, req.Kind, req.ID, "client", "   ")
	require.Error(t, err)

	msg, err := f.svc.SendMessage(ctx, req.Kind, req.ID, "client", "  **hello** <script>alert(1)</script> if a < b ")
	require.NoError(t, err)
	require.Equal(t, "**hello** <script>alert(1)</script> if a < b", msg.Content, "body is kept as typed")
	require.NotContains(t, msg.HTML, "<script>")
	require.Contains(t, msg.HTML, "<strong>hello</strong>")
	require.False(t, msg.SendAt.IsZero())

	_, err = f.svc.SendMessage(ctx, req.Kind, req.ID, "designer", "reply")
	require.NoError(t, err)

	docs, err := f.store.Query(ctx, storage.Query{Collection: "designs/" + req.ID + "/chats", OrderBy: "sendAt"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	require.Equal(t, "client", docs[0].String("sendBy"))
	require.Equal(t, msg.Content, docs[0].String("content"))
	require.False(t, docs[0].Bool("read"))

	n, err := f.svc.MarkRead(ctx, req.Kind, req.ID, "designer")
	require.NoError(t, err)
	require.Equal(t, 1, n, "only messages of others are marked")

	n, err = f.svc.MarkRead(ctx, req.Kind, req.ID, "designer")
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = f.svc.MarkRead(ctx, req.Kind, req.ID, "stranger")
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestService_SubmitCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.CreateDesign(ctx, "client", Draft{Name: "Poster"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Accept(ctx, req.Kind, req.ID, "designer"))

	_, err = f.svc.SubmitCompletion(ctx, req.Kind, req.ID, "designer", strings.NewReader("not an image"), "")
	require.ErrorIs(t, err, ErrNotImage)

	png, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)

	comp, err := f.svc.SubmitCompletion(ctx, req.Kind, req.ID, "designer", bytes.NewReader(png), "Here it is")
	require.NoError(t, err)
	require.Equal(t, "designs/1700000000123-"+req.ID+".png", comp.Image)
	require.Equal(t, "/storage/"+comp.Image, comp.URL)

	rc, err := f.files.Get(comp.Image)
	require.NoError(t, err)
	stored, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	require.Equal(t, png, stored)

	meta, err := f.store.GetBlobMetadata(comp.Image)
	require.NoError(t, err)
	require.Equal(t, "image/png", meta.MimeType)
	require.Equal(t, "designer", meta.UserID)

	completions, err := f.store.Query(ctx, storage.Query{Collection: "designs/" + req.ID + "/completions"})
	require.NoError(t, err)
	require.Len(t, completions, 1)
	require.Equal(t, comp.Image, completions[0].String("image"))

	chats, err := f.store.Query(ctx, storage.Query{Collection: "designs/" + req.ID + "/chats"})
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, "Here it is", chats[0].String("content"))

	_, err = f.svc.SubmitCompletion(ctx, req.Kind, req.ID, "stranger", bytes.NewReader(png), "")
	require.ErrorIs(t, err, ErrNotParticipant)
}

func TestService_SubmitCompletionLeavesNothingOnRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	png, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)

	req, err := f.svc.CreateDesign(ctx, "client", Draft{Name: "Poster"})
	require.NoError(t, err)
	key := "designs/1700000000123-" + req.ID + ".png"

	assertNothingStored := func(t *testing.T) {
		t.Helper()
		_, err := f.files.Get(key)
		require.Error(t, err, "no file may be stored")
		_, err = f.store.GetBlobMetadata(key)
		require.ErrorIs(t, err, models.ErrNotFound)
		completions, err := f.store.Query(ctx, storage.Query{Collection: "designs/" + req.ID + "/completions"})
		require.NoError(t, err)
		require.Empty(t, completions)
		chats, err := f.store.Query(ctx, storage.Query{Collection: "designs/" + req.ID + "/chats"})
		require.NoError(t, err)
		require.Empty(t, chats)
	}

	_, err = f.svc.SubmitCompletion(ctx, req.Kind, req.ID, "client", bytes.NewReader(png), "done")
	require.ErrorIs(t, err, ErrPending)
	assertNothingStored(t)

	_, err = f.svc.SubmitCompletion(ctx, req.Kind, req.ID, "client", bytes.NewReader(png), "")
	require.ErrorIs(t, err, ErrPending)
	assertNothingStored(t)

	require.NoError(t, f.svc.Accept(ctx, req.Kind, req.ID, "designer"))
	_, err = f.svc.SubmitCompletion(ctx, req.Kind, req.ID, "designer", bytes.NewReader(png), strings.Repeat("x", 5000))
	require.Error(t, err)
	assertNothingStored(t)
}

func TestService_CompletionReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	png, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)

	req, err := f.svc.CreateDesign(ctx, "client", Draft{Name: "Poster"})
	require.NoError(t, err)
	require.NoError(t, f.svc.Accept(ctx, req.Kind, req.ID, "designer"))

	submit := func() Completion {
		t.Helper()
		comp, err := f.svc.SubmitCompletion(ctx, req.Kind, req.ID, "designer", bytes.NewReader(png), "")
		require.NoError(t, err)
		require.Equal(t, CompletionPending, comp.Status)
		return comp
	}

	first := submit()
	require.ErrorIs(t, f.svc.RequestRevision(ctx, req.Kind, req.ID, first.ID, "designer", "no"), ErrNotParticipant,
		"only the creator reviews")
	require.ErrorIs(t, f.svc.RequestRevision(ctx, req.Kind, req.ID, first.ID, "client", "  "), content.ErrEmpty)
	require.NoError(t, f.svc.RequestRevision(ctx, req.Kind, req.ID, first.ID, "client", "Bigger logo please"))
	require.ErrorIs(t, f.svc.ConfirmCompletion(ctx, req.Kind, req.ID, first.ID, "client"), ErrInvalidStatus,
		"a rejected completion cannot be accepted")

	list, err := f.svc.Completions(ctx, req.Kind, req.ID, "client", models.RoleClient)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, CompletionRejected, list[0].Status)
	require.Equal(t, "Bigger logo please", list[0].RejectMessage)

	_, err = f.svc.Completions(ctx, req.Kind, req.ID, "stranger", models.RoleClient)
	require.ErrorIs(t, err, ErrNotParticipant)

	for range MaxCompletions - 2 {
		comp := submit()
		require.NoError(t, f.svc.RequestRevision(ctx, req.Kind, req.ID, comp.ID, "client", "again"))
	}
	last := submit()
	require.ErrorIs(t, f.svc.RequestRevision(ctx, req.Kind, req.ID, last.ID, "client", "again"), ErrRevisionLimit)
	_, err = f.svc.SubmitCompletion(ctx, req.Kind, req.ID, "designer", bytes.NewReader(png), "")
	require.ErrorIs(t, err, ErrRevisionLimit)

	require.NoError(t, f.svc.ConfirmCompletion(ctx, req.Kind, req.ID, last.ID, "client"))
	got, err := f.svc.Get(ctx, req.Kind, req.ID)
	require.NoError(t, err)
	require.Equal(t, models.RequestStatusFinished, got.Status)

	list, err = f.svc.Completions(ctx, req.Kind, req.ID, "admin", models.RoleAdmin)
	require.NoError(t, err)
	require.Len(t, list, MaxCompletions)
	require.Equal(t, CompletionAccepted, list[len(list)-1].Status)
}
