// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package mediakeys

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/emecore/internal/drm/cdm/fake"
	"github.com/ManuGH/emecore/internal/drm/initdata"
	"github.com/ManuGH/emecore/internal/drm/model"
	"github.com/ManuGH/emecore/internal/drm/persistent"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func widevine() []model.KeySystemOption {
	return []model.KeySystemOption{{Type: "widevine"}}
}

func TestInitAttachAndReuse(t *testing.T) {
	ctx := context.Background()
	p := fake.NewPlatform()
	m := NewManager(p, NewRegistry())
	el := fake.NewElement("video-0")

	st, err := m.Init(ctx, el, widevine())
	require.NoError(t, err)
	assert.Equal(t, "com.widevine.alpha", st.KeySystem)
	assert.Nil(t, st.PersistentSessions)
	require.NoError(t, m.Attach(ctx, el, st))
	assert.Same(t, st, m.Registry().Get(el))
	assert.Equal(t, st.MediaKeys, el.MediaKeys())

	again, err := m.Init(ctx, el, widevine())
	require.NoError(t, err)
	assert.Equal(t, st.MediaKeys, again.MediaKeys, "compatible state reuses the CDM instance")
	assert.Same(t, st.LoadedSessions, again.LoadedSessions)
	assert.Equal(t, 1, p.MediaKeysCreated())

	require.NoError(t, m.Attach(ctx, el, again))
	assert.Equal(t, 1, el.SetMediaKeysCalls(), "already attached instance is not set twice")
}

func TestInitRecreatesOnCertificateMismatch(t *testing.T) {
	ctx := context.Background()
	p := fake.NewPlatform()
	m := NewManager(p, NewRegistry())
	el := fake.NewElement("video-0")

	opts := []model.KeySystemOption{{Type: "widevine", ServerCertificate: []byte("cert-a")}}
	st, err := m.Init(ctx, el, opts)
	require.NoError(t, err)
	require.NoError(t, m.Attach(ctx, el, st))
	require.NoError(t, m.SetServerCertificate(ctx, st.MediaKeys, opts[0].ServerCertificate))

	same, err := m.Init(ctx, el, opts)
	require.NoError(t, err)
	assert.Equal(t, st.MediaKeys, same.MediaKeys)

	other := []model.KeySystemOption{{Type: "widevine", ServerCertificate: []byte("cert-b")}}
	fresh, err := m.Init(ctx, el, other)
	require.NoError(t, err)
	assert.NotEqual(t, st.MediaKeys, fresh.MediaKeys)
	assert.Equal(t, 2, p.MediaKeysCreated())
}

func TestAttachClosesPreviousSessions(t *testing.T) {
	ctx := context.Background()
	p := fake.NewPlatform()
	m := NewManager(p, NewRegistry())
	el := fake.NewElement("video-0")

	first, err := m.Init(ctx, el, widevine())
	require.NoError(t, err)
	require.NoError(t, m.Attach(ctx, el, first))
	d := initdata.New("cenc", []initdata.Value{{SystemID: "edef8ba979d64acea3c827dcd51d21ed", Data: []byte{1}}}, nil)
	_, err = first.LoadedSessions.CreateSession(d, model.SessionTemporary)
	require.NoError(t, err)

	second, err := m.Init(ctx, el, []model.KeySystemOption{{Type: "playready"}})
	require.NoError(t, err)
	require.NoError(t, m.Attach(ctx, el, second))
	assert.Equal(t, 0, first.LoadedSessions.Len())
	assert.Empty(t, p.OpenSessions())
	assert.Equal(t, second.MediaKeys, el.MediaKeys())
}

func TestInitErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("create media keys", func(t *testing.T) {
		p := fake.NewPlatform(fake.WithCreateMediaKeysError(errors.New("boom")))
		_, err := NewManager(p, NewRegistry()).Init(ctx, fake.NewElement("v"), widevine())
		require.Error(t, err)
		assert.Equal(t, model.CodeCreateMediaKeys, model.CodeOf(err))
	})

	t.Run("no supported key system", func(t *testing.T) {
		p := fake.NewPlatform(fake.WithSupportedKeySystems("org.w3.clearkey"))
		_, err := NewManager(p, NewRegistry()).Init(ctx, fake.NewElement("v"), widevine())
		assert.Equal(t, model.CodeIncompatibleKeySystems, model.CodeOf(err))
	})

	t.Run("attachment", func(t *testing.T) {
		p := fake.NewPlatform()
		m := NewManager(p, NewRegistry())
		el := fake.NewElement("v")
		el.FailAttachment(errors.New("nope"))
		st, err := m.Init(ctx, el, widevine())
		require.NoError(t, err)
		assert.Error(t, m.Attach(ctx, el, st))
	})
}

func TestInitOpensPersistentStore(t *testing.T) {
	storage := persistent.NewMemoryStorage()
	opts := []model.KeySystemOption{{
		Type:                    "widevine",
		PersistentLicenseConfig: &model.PersistentLicenseConfig{Storage: storage},
	}}
	st, err := NewManager(fake.NewPlatform(), NewRegistry()).Init(context.Background(), fake.NewElement("v"), opts)
	require.NoError(t, err)
	require.NotNil(t, st.PersistentSessions)
	assert.Equal(t, 0, st.PersistentSessions.Len())
}

func TestServerCertificate(t *testing.T) {
	ctx := context.Background()
	p := fake.NewPlatform()
	m := NewManager(p, NewRegistry())
	st, err := m.Init(ctx, fake.NewElement("v"), widevine())
	require.NoError(t, err)

	require.NoError(t, m.SetServerCertificate(ctx, st.MediaKeys, []byte("c")))
	assert.Equal(t, []byte("c"), st.MediaKeys.(*fake.MediaKeys).ServerCertificate())

	bad := fake.NewPlatform(fake.WithServerCertificateError(errors.New("rejected")))
	bm := NewManager(bad, NewRegistry())
	bst, err := bm.Init(ctx, fake.NewElement("v"), widevine())
	require.NoError(t, err)
	err = bm.SetServerCertificate(ctx, bst.MediaKeys, []byte("c"))
	assert.Equal(t, model.CodeServerCertificateError, model.CodeOf(err))
}

func TestDispose(t *testing.T) {
	ctx := context.Background()
	p := fake.NewPlatform()
	m := NewManager(p, NewRegistry())
	el := fake.NewElement("v")

	require.NoError(t, m.Dispose(ctx, el), "disposing an unknown element is a no-op")

	st, err := m.Init(ctx, el, widevine())
	require.NoError(t, err)
	require.NoError(t, m.Attach(ctx, el, st))
	require.NoError(t, m.Dispose(ctx, el))
	assert.Nil(t, m.Registry().Get(el))
	assert.Nil(t, el.MediaKeys())
	assert.Equal(t, 0, m.Registry().Len())
}
