package api

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "layout"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>vidstore</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,Cantarell,Noto Sans,sans-serif;max-width:880px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:10px 14px;border-radius:8px;cursor:pointer}
    .btn.danger{background:#b3261e}
    input[type=text],input[type=number]{padding:9px 10px;border:1px solid #dcdcdc;border-radius:8px}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Monaco,Consolas,monospace}
    .status{display:inline-block;padding:4px 8px;border-radius:6px;background:#efefef;font-size:12px}
  </style>
</head>
<body>
  <header><h1><a href="/">vidstore</a></h1><div class="muted">Minimal no-JS helper for the /file API</div></header>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6">
    <strong style="color:#b3261e">Error:</strong> <span class="muted">{{.Error}}</span>
  </div>
  {{end}}
  {{if .File}}{{template "file-content" .}}{{else}}{{template "home-content" .}}{{end}}
</body>
</html>
{{end}}

{{define "home-content"}}
  <div class="card">
    <h2>Upload video</h2>
    <form method="post" action="/ui/upload" enctype="multipart/form-data">
      <div class="row"><input type="file" name="file" accept=".mp4" required /><button class="btn" type="submit">Upload</button></div>
    </form>
  </div>
  <div class="card">
    <h2>Files</h2>
    {{if .Files}}
    <ul>
      {{range .Files}}<li><a class="mono" href="/ui/files/{{.ID}}">{{.ID}}</a> · {{.Filename}}{{if .Processing}} · <span class="status">processing</span>{{end}}</li>{{end}}
    </ul>
    {{else}}<div class="muted">No files yet</div>{{end}}
  </div>
{{end}}

{{define "file-content"}}
  <div class="card">
    <h2><span class="mono">{{.File.ID}}</span></h2>
    <div>Name: <strong>{{.File.Filename}}</strong></div>
    <div>Status: <span class="status">{{.State}}</span></div>
    <div class="muted"><a href="/ui/files/{{.File.ID}}">Refresh</a></div>
  </div>
  <div class="card">
    <h3>Resize</h3>
    <form method="post" action="/ui/files/{{.File.ID}}/resize">
      <div class="row">
        <input type="number" name="width" placeholder="width" required />
        <input type="number" name="height" placeholder="height" required />
        <button class="btn" type="submit">Resize</button>
      </div>
    </form>
    <div class="muted">Each dimension must be an even number greater than 20</div>
  </div>
  <div class="card">
    <form method="post" action="/ui/files/{{.File.ID}}/delete"><button class="btn danger" type="submit">Delete</button></form>
  </div>
{{end}}
`))

// RegisterUIRoutes registers minimal HTML UI without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/upload", a.UIUpload)
	router.GET("/ui/files/:id", a.UIFile)
	router.POST("/ui/files/:id/resize", a.UIResize)
	router.POST("/ui/files/:id/delete", a.UIDelete)
}

// UIHome renders the upload form and file list
func (a *API) UIHome(c *gin.Context) {
	a.renderHome(c, http.StatusOK, "")
}

func (a *API) renderHome(c *gin.Context, code int, errMsg string) {
	infos, err := a.engine.List(c.Request.Context())
	if err != nil && errMsg == "" {
		errMsg = "could not list files"
	}
	files := make([]fileInfoResponse, 0, len(infos))
	for _, info := range infos {
		files = append(files, toFileInfoResponse(info))
	}
	c.HTML(code, "layout", gin.H{"Files": files, "Error": errMsg})
}

// UIUpload stores the submitted file and redirects to its page
func (a *API) UIUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, a.maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		a.renderHome(c, http.StatusBadRequest, "choose a file to upload")
		return
	}
	src, err := header.Open()
	if err != nil {
		a.renderHome(c, http.StatusInternalServerError, "could not read upload")
		return
	}
	id, _, err := a.engine.Ingest(c.Request.Context(), header.Filename, src)
	if err != nil {
		_ = src.Close()
		code, resp := classify(err)
		a.renderHome(c, code, resp.Error)
		return
	}
	c.Redirect(http.StatusFound, "/ui/files/"+id.String())
}

// UIFile renders the status page of a file
func (a *API) UIFile(c *gin.Context) {
	a.renderFile(c, http.StatusOK, "")
}

func (a *API) renderFile(c *gin.Context, code int, errMsg string) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		a.renderHome(c, http.StatusBadRequest, "file id is invalid")
		return
	}
	info, err := a.engine.GetInfo(c.Request.Context(), id)
	if err != nil {
		status, resp := classify(err)
		a.renderHome(c, status, resp.Error)
		return
	}
	c.HTML(code, "layout", gin.H{"File": toFileInfoResponse(info), "State": describe(info.Processing, info.LastSuccess), "Error": errMsg})
}

// UIResize starts a resize from the form and redirects back
func (a *API) UIResize(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		a.renderHome(c, http.StatusBadRequest, "file id is invalid")
		return
	}
	width, errW := strconv.Atoi(strings.TrimSpace(c.PostForm("width")))
	height, errH := strconv.Atoi(strings.TrimSpace(c.PostForm("height")))
	if errW != nil || errH != nil {
		a.renderFile(c, http.StatusBadRequest, "width and height must be numbers")
		return
	}
	if _, err := a.engine.Transform(c.Request.Context(), id, width, height); err != nil {
		code, resp := classify(err)
		a.renderFile(c, code, resp.Error)
		return
	}
	c.Redirect(http.StatusFound, "/ui/files/"+id.String())
}

// UIDelete removes the file and returns to the home page
func (a *API) UIDelete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		a.renderHome(c, http.StatusBadRequest, "file id is invalid")
		return
	}
	if _, err := a.engine.Purge(c.Request.Context(), id); err != nil {
		code, resp := classify(err)
		a.renderHome(c, code, resp.Error)
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func describe(processing bool, lastSuccess *bool) string {
	switch {
	case processing:
		return "processing"
	case lastSuccess == nil:
		return "idle"
	case *lastSuccess:
		return "last operation succeeded"
	default:
		return "last operation failed"
	}
}
