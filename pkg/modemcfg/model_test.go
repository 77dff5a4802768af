package modemcfg

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFormModel = `
id: netgear-cm600
vendor: Netgear
paradigm: html
pages:
  data:
    status: /DocsisStatus.htm
auth:
  strategy: form
  form:
    action_path: /goform/Login
    username_field: loginUsername
    password_field: loginPassword
actions:
  restart:
    type: html-form
    endpoint: /goform/Reboot
    params:
      buttonSelect: "2"
`

func TestParse_ValidFormModel(t *testing.T) {
	m, err := Parse([]byte(validFormModel))
	require.NoError(t, err)

	assert.Equal(t, "netgear-cm600", m.ID)
	assert.Equal(t, ParadigmHTML, m.Paradigm)
	assert.Equal(t, "/DocsisStatus.htm", m.Pages.Data["status"])
	assert.Equal(t, StrategyForm, m.Auth.Strategy)
	assert.Equal(t, "loginPassword", m.Auth.Form.PasswordField)
	require.True(t, m.HasRestart())
	assert.Equal(t, RestartHTMLForm, m.Actions.Restart.Type)
	assert.Equal(t, "2", m.Actions.Restart.Params["buttonSelect"])
}

func TestParse_AppliesDefaults(t *testing.T) {
	m, err := Parse([]byte(`
id: some-hnap-device
paradigm: hnap
pages:
  hnap_actions: [GetStatus]
auth:
  strategy: hnap
`))
	require.NoError(t, err)

	assert.Equal(t, 10, m.TimeoutSeconds, "timeout should default to 10 seconds")
	assert.Equal(t, 10*time.Second, m.Timeout())
	require.NotNil(t, m.Auth.HNAP, "hnap block should be created for the hnap strategy")
	assert.Equal(t, DefaultHNAPNamespace, m.Auth.HNAP.Namespace)
	assert.Equal(t, "md5", m.Auth.HNAP.Digest)
}

func TestParse_URLTokenDefaults(t *testing.T) {
	m, err := Parse([]byte(`
id: arris-thing
paradigm: html
pages:
  data:
    connection: /cmconnectionstatus.html
auth:
  strategy: urltoken
  url_token:
    data_page: /cmconnectionstatus.html
    token_cookie: credential
`))
	require.NoError(t, err)

	assert.Equal(t, "login_", m.Auth.URLToken.LoginPrefix)
	assert.Equal(t, "ct_", m.Auth.URLToken.TokenPrefix)
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("id: [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name:  "missing id",
			yaml:  "paradigm: html\npages:\n  data:\n    x: /x\nauth:\n  strategy: none\n",
			field: "id",
		},
		{
			name:  "unknown paradigm",
			yaml:  "id: x\nparadigm: soap\nauth:\n  strategy: none\n",
			field: "paradigm",
		},
		{
			name:  "form strategy without form block",
			yaml:  "id: x\nparadigm: html\npages:\n  data:\n    x: /x\nauth:\n  strategy: form\n",
			field: "auth.form",
		},
		{
			name:  "hnap paradigm without actions",
			yaml:  "id: x\nparadigm: hnap\nauth:\n  strategy: hnap\n",
			field: "pages.hnap_actions",
		},
		{
			name:  "hnap paradigm with html auth",
			yaml:  "id: x\nparadigm: hnap\npages:\n  hnap_actions: [GetStatus]\nauth:\n  strategy: none\n",
			field: "paradigm",
		},
		{
			name:  "html paradigm without pages",
			yaml:  "id: x\nparadigm: html\nauth:\n  strategy: none\n",
			field: "pages.data",
		},
		{
			name:  "urltoken without cookie or body mode",
			yaml:  "id: x\nparadigm: html\npages:\n  data:\n    x: /x\nauth:\n  strategy: urltoken\n  url_token:\n    data_page: /x\n",
			field: "auth.url_token.token_cookie",
		},
		{
			name:  "restart without endpoint",
			yaml:  "id: x\nparadigm: html\npages:\n  data:\n    x: /x\nauth:\n  strategy: none\nactions:\n  restart:\n    type: html-form\n",
			field: "actions.restart.endpoint",
		},
		{
			name:  "merge names unknown resource",
			yaml:  "id: x\nparadigm: rest\npages:\n  data:\n    down: /d\n  merge: [down, up]\n  merge_key: all\nauth:\n  strategy: none\n",
			field: "pages.merge",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)

			verrs, ok := err.(*ValidationErrors)
			require.True(t, ok, "error should be *ValidationErrors, got %T", err)

			found := false
			for _, e := range verrs.Errors {
				if e.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected a violation on %q, got: %v", tt.field, verrs.Error())
		})
	}
}

func TestValidationErrors_MessageFormat(t *testing.T) {
	_, err := Parse([]byte("paradigm: html\nauth:\n  strategy: none\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model validation failed:")
	assert.Contains(t, err.Error(), "id is required")
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validFormModel), 0o600))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "netgear-cm600", m.ID)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}
