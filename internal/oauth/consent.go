package oauth

import (
	"bytes"
	"html/template"
	"net/http"
)

// consentTemplate is the operator-facing consent page. Every flow parameter
// is carried through hidden form fields; html/template entity-escapes all of
// them, so reflected markup in query parameters is rendered inert.
const consentTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Authorize Access</title>
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 50%, #0f3460 100%);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #fff;
        }
        .card {
            background: rgba(255, 255, 255, 0.06);
            border-radius: 12px;
            padding: 2rem;
            max-width: 420px;
            width: 100%;
        }
        h1 { font-size: 1.4rem; font-weight: 600; margin-bottom: 0.75rem; }
        p { color: rgba(255, 255, 255, 0.7); font-size: 0.95rem; margin-bottom: 1.25rem; }
        .client { color: #00d26a; font-weight: 500; }
        label { display: block; font-size: 0.875rem; margin-bottom: 0.5rem; }
        input[type=password] {
            width: 100%;
            padding: 0.75rem;
            border: 1px solid rgba(255, 255, 255, 0.2);
            border-radius: 8px;
            background: rgba(0, 0, 0, 0.3);
            color: #fff;
            font-size: 1rem;
            margin-bottom: 1.25rem;
        }
        button {
            width: 100%;
            padding: 0.875rem;
            background: linear-gradient(135deg, #00d26a 0%, #00a855 100%);
            color: #fff;
            border: none;
            border-radius: 8px;
            font-size: 1rem;
            font-weight: 500;
            cursor: pointer;
        }
        .notice { color: #ff6b6b; font-size: 0.9rem; margin-bottom: 1rem; }
    </style>
</head>
<body>
    <div class="card">
        <h1>Authorize Access</h1>
        <p>Client <span class="client">{{.ClientID}}</span> is requesting access to the transcript tools. Enter the operator password to approve.</p>
        {{if .Notice}}<p class="notice">{{.Notice}}</p>{{end}}
        <form method="POST" action="/authorize/approve">
            <input type="hidden" name="client_id" value="{{.ClientID}}">
            <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
            <input type="hidden" name="code_challenge" value="{{.CodeChallenge}}">
            <input type="hidden" name="code_challenge_method" value="{{.CodeChallengeMethod}}">
            <input type="hidden" name="state" value="{{.State}}">
            <label for="password">Operator password</label>
            <input type="password" id="password" name="password" autofocus autocomplete="current-password">
            <button type="submit">Approve</button>
        </form>
    </div>
</body>
</html>`

// errorPageTemplate renders OAuth flow failures as a minimal HTML page.
const errorPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            background: linear-gradient(135deg, #1a1a2e 0%, #16213e 50%, #0f3460 100%);
            min-height: 100vh;
            display: flex;
            align-items: center;
            justify-content: center;
            color: #fff;
        }
        .card { text-align: center; padding: 2rem; max-width: 420px; }
        h1 { font-size: 1.4rem; margin-bottom: 0.75rem; color: #ff6b6b; }
        p { color: rgba(255, 255, 255, 0.7); }
    </style>
</head>
<body>
    <div class="card">
        <h1>{{.Title}}</h1>
        <p>{{.Message}}</p>
    </div>
</body>
</html>`

// Parsed once at package initialization.
var (
	consentTmpl   = template.Must(template.New("consent").Parse(consentTemplate))
	errorPageTmpl = template.Must(template.New("error").Parse(errorPageTemplate))
)

// consentData holds the template data for the consent page.
type consentData struct {
	ClientID            string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	Notice              string
}

// errorPageData holds the template data for HTML error pages.
type errorPageData struct {
	Title   string
	Message string
}

// renderHTML executes a template to a buffer first so a failed execution
// never produces a partially written response.
func renderHTML(w http.ResponseWriter, tmpl *template.Template, status int, data any) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		http.Error(w, "Failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}
