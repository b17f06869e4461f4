package gateway_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/apikit/adapters/schema/fieldschema"
	"github.com/artpar/apikit/adapters/session"
	"github.com/artpar/apikit/domain/endpoint"
	"github.com/artpar/apikit/gateway"
	"github.com/artpar/apikit/ports"
)

type stubResponseAdapter struct{ tag string }

func (a stubResponseAdapter) Adapt(ctx context.Context, resp endpoint.Response) (any, error) {
	return a.tag, nil
}

func TestSpec_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		spec    *gateway.Spec
		missing []string
	}{
		{"root", gateway.Root, []string{"url", "method"}},
		{"no url", gateway.GET.Extend("NoURL", gateway.Fields{}), []string{"url"}},
		{"no method", gateway.Root.Extend("NoMethod", gateway.Fields{URL: "https://test.com"}), []string{"method"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Build(context.Background(), nil)
			var ce *endpoint.ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.missing, ce.Missing)
		})
	}
}

func TestSpec_URLResolution(t *testing.T) {
	sess := gateway.StaticSession(&recordingSession{})

	tests := []struct {
		name    string
		fields  gateway.Fields
		want    string
		wantErr bool
	}{
		{"absolute", gateway.Fields{URL: "https://test.com/a"}, "https://test.com/a", false},
		{"base and path", gateway.Fields{BaseURL: "https://test.com", URL: "/test"}, "https://test.com/test", false},
		{"slashes collapse", gateway.Fields{BaseURL: "https://test.com/", URL: "/test"}, "https://test.com/test", false},
		{"absolute ignores base", gateway.Fields{BaseURL: "https://a.com", URL: "https://b.com/x"}, "https://b.com/x", false},
		{"relative without base", gateway.Fields{URL: "/test"}, "", true},
		{"relative base", gateway.Fields{BaseURL: "test.com", URL: "/test"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.fields
			f.SessionFactory = sess
			g, err := gateway.GET.Extend("U", f).Build(context.Background(), nil)
			if tt.wantErr {
				assert.True(t, endpoint.IsConfiguration(err), "err = %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.URL())
		})
	}
}

func TestSpec_MethodSpecs(t *testing.T) {
	tests := []struct {
		spec *gateway.Spec
		want endpoint.Method
	}{
		{gateway.GET, endpoint.MethodGet},
		{gateway.POST, endpoint.MethodPost},
		{gateway.PUT, endpoint.MethodPut},
		{gateway.PATCH, endpoint.MethodPatch},
		{gateway.DELETE, endpoint.MethodDelete},
	}
	for _, tt := range tests {
		g, err := tt.spec.With(gateway.Fields{URL: "https://test.com", SessionFactory: gateway.StaticSession(&recordingSession{})}).
			Build(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, g.Method())
		assert.Equal(t, string(tt.want), tt.spec.Name())
	}
}

func TestSpec_Named(t *testing.T) {
	base := gateway.GET.Extend("Users", gateway.Fields{URL: "https://test.com/users", SessionFactory: gateway.StaticSession(&recordingSession{})})
	alias := base.Named("People")

	assert.Equal(t, "People", alias.Name())
	assert.Same(t, base, alias.Parent())
	assert.Equal(t, gateway.Fields{}, alias.Own())

	g, err := alias.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "https://test.com/users", g.URL())
	assert.Equal(t, endpoint.MethodGet, g.Method())
}

func TestSpec_FieldWiseOverride(t *testing.T) {
	custom := stubResponseAdapter{tag: "custom"}

	base := gateway.Root.Extend("Base", gateway.Fields{
		BaseURL: "https://example.org",
		Headers: map[string]string{"X-Base": "1"},
		Timeout: 5 * time.Second,
	})
	create := base.Extend("Create", gateway.Fields{Method: endpoint.MethodPost})
	child := create.Extend("Child", gateway.Fields{ResponseAdapter: custom})
	inst := child.With(gateway.Fields{URL: "/x", SessionFactory: gateway.StaticSession(&recordingSession{})})

	r := inst.Resolve()
	assert.Equal(t, "Child", r.Name)
	assert.Equal(t, "https://example.org", r.BaseURL)
	assert.Equal(t, endpoint.MethodPost, r.Method)
	assert.Equal(t, 5*time.Second, r.Timeout)
	assert.Equal(t, gateway.ScopeInstance, r.Scope)

	g, err := inst.Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "https://example.org/x", g.URL())
	assert.Equal(t, endpoint.MethodPost, g.Method())
	assert.Equal(t, custom, g.ResponseAdapter())
	assert.Equal(t, map[string]string{"X-Base": "1"}, g.Headers())

	out, err := g.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "custom", out)

	// Headers are one field: the nearest declaration replaces it whole.
	h := inst.With(gateway.Fields{Headers: map[string]string{"X-Own": "2"}}).Resolve()
	assert.Equal(t, map[string]string{"X-Own": "2"}, h.Headers)

	// Parents are untouched by derivation.
	assert.Empty(t, base.Resolve().Method)
	assert.Equal(t, "Base < Root", base.String())
	assert.Same(t, create, child.Parent())
}

func TestSpec_AdapterPrecedence(t *testing.T) {
	model := fieldschema.New("m", fieldschema.String("name"))
	var factoryModel ports.Schema
	factory := func(m ports.Schema) (ports.RequestAdapter, error) {
		factoryModel = m
		return gateway.NewRequestAdapter(nil), nil
	}
	sess := gateway.StaticSession(&recordingSession{})

	// Default adapter carries the model.
	g, err := gateway.POST.With(gateway.Fields{URL: "https://t.com", RequestModel: model, SessionFactory: sess}).Build(context.Background(), nil)
	require.NoError(t, err)
	ra, ok := g.RequestAdapter().(*gateway.RequestAdapter)
	require.True(t, ok)
	assert.Same(t, model, ra.Schema())

	// Factory receives the model.
	_, err = gateway.POST.With(gateway.Fields{URL: "https://t.com", RequestModel: model, RequestAdapterFactory: factory, SessionFactory: sess}).
		Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, model, factoryModel)

	// An instance beats the factory.
	explicit := gateway.NewRequestAdapter(nil)
	factoryModel = nil
	g, err = gateway.POST.With(gateway.Fields{URL: "https://t.com", RequestAdapter: explicit, RequestAdapterFactory: factory, SessionFactory: sess}).
		Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, explicit, g.RequestAdapter())
	assert.Nil(t, factoryModel)
}

func TestSpec_BadSelect(t *testing.T) {
	_, err := gateway.GET.With(gateway.Fields{URL: "https://t.com", Select: "body.("}).Build(context.Background(), nil)
	assert.True(t, endpoint.IsConfiguration(err), "err = %v", err)
}

func TestSpec_PrebuiltGateway(t *testing.T) {
	g, err := gateway.New(gateway.Config{Session: &recordingSession{}, URL: "https://t.com", Method: endpoint.MethodGet})
	require.NoError(t, err)

	got, err := gateway.Root.With(gateway.Fields{Gateway: g}).Build(context.Background(), nil)
	require.NoError(t, err)
	assert.Same(t, g, got)
}

func TestSpec_AuthorizerOnDefaultSession(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	token, err := session.NewBearerToken("test_token")
	require.NoError(t, err)

	g, err := gateway.GET.With(gateway.Fields{BaseURL: server.URL, URL: "/me", Authorizer: token}).Build(context.Background(), nil)
	require.NoError(t, err)

	_, err = g.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer test_token", gotAuth)
	assert.Contains(t, g.Session().(*session.HTTPSession).String(), "******oken")
}

func TestSpec_SessionFactoryError(t *testing.T) {
	failing := func(context.Context, gateway.Resolved, any) (ports.Session, error) {
		return nil, assert.AnError
	}
	_, err := gateway.GET.With(gateway.Fields{URL: "https://t.com", SessionFactory: failing}).Build(context.Background(), nil)
	assert.True(t, endpoint.IsConfiguration(err))
}

func TestParseScope(t *testing.T) {
	s, err := gateway.ParseScope("")
	require.NoError(t, err)
	assert.Equal(t, gateway.ScopeInstance, s)

	s, err = gateway.ParseScope("Shared")
	require.NoError(t, err)
	assert.Equal(t, gateway.ScopeShared, s)

	_, err = gateway.ParseScope("global")
	assert.Error(t, err)
}
