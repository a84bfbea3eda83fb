// Copyright 2015 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package manager

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/bcfuzz/pkg/corpus"
	"github.com/google/bcfuzz/pkg/fuzzer"
	"github.com/google/bcfuzz/pkg/hash"
	"github.com/google/bcfuzz/pkg/log"
	"github.com/google/bcfuzz/pkg/mgrconfig"
	"github.com/google/bcfuzz/pkg/rpcserver"
	"github.com/google/bcfuzz/pkg/stat"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type HTTPServer struct {
	// To be set before calling Serve.
	Cfg       *mgrconfig.Config
	Session   string
	StartTime time.Time

	// Can be set dynamically after calling Serve.
	Corpus atomic.Pointer[corpus.Corpus]
	Fuzzer atomic.Pointer[fuzzer.Fuzzer]
	Server atomic.Pointer[rpcserver.Server]
}

func (serv *HTTPServer) Serve(ctx context.Context) error {
	if serv.Cfg.HTTP == "" {
		return fmt.Errorf("starting a disabled HTTP server")
	}
	ln, err := net.Listen("tcp", serv.Cfg.HTTP)
	if err != nil {
		return fmt.Errorf("failed to listen on %v: %w", serv.Cfg.HTTP, err)
	}
	log.Logf(0, "serving http on http://%v", ln.Addr())
	server := &http.Server{Handler: serv.Handler()}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	err = server.Serve(ln)
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (serv *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, handler func(http.ResponseWriter, *http.Request)) {
		mux.Handle(pattern, handlers.CompressHandler(http.HandlerFunc(handler)))
	}
	// keep-sorted start
	handle("/", serv.httpMain)
	handle("/addcandidate", serv.httpAddCandidate)
	handle("/config", serv.httpConfig)
	handle("/corpus", serv.httpCorpus)
	handle("/crash", serv.httpCrash)
	handle("/input", serv.httpInput)
	handle("/jobs", serv.httpJobs)
	handle("/log", serv.httpLog)
	handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}).ServeHTTP)
	handle("/stats", serv.httpStats)
	handle("/workers", serv.httpWorkers)
	// keep-sorted end
	handle("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {})
	return mux
}

func (serv *HTTPServer) pageHeader(title string) UIPageHeader {
	name := serv.Cfg.Name
	if name == "" {
		name = "bcf-manager"
	}
	return UIPageHeader{
		Name:    name,
		Title:   title,
		Session: serv.Session,
	}
}

func (serv *HTTPServer) httpMain(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	data := &UISummaryData{
		UIPageHeader: serv.pageHeader("summary"),
		Uptime:       time.Since(serv.StartTime).Truncate(time.Second).String(),
		Log:          log.CachedLogOutput(),
	}
	if fz := serv.Fuzzer.Load(); fz != nil {
		data.Phase = fz.State().String()
		data.StopReason = fz.StopReason()
	}
	if s := serv.Server.Load(); s != nil {
		edges, blind := s.TargetInfo()
		data.TargetEdges = edges
		data.Blind = strings.Join(blind, ", ")
	}
	for _, val := range stat.Collect(stat.Simple) {
		data.Stats = append(data.Stats, UIStat{
			Name:  val.Name,
			Value: val.Value,
			Hint:  val.Desc,
		})
	}
	data.Crashes = serv.crashList()
	executeTemplate(w, summaryTemplate, data)
}

func (serv *HTTPServer) crashList() []UICrash {
	corp := serv.Corpus.Load()
	if corp == nil {
		return nil
	}
	var list []UICrash
	for _, crash := range corp.Crashes() {
		list = append(list, makeUICrash(crash))
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].LastSeen.After(list[j].LastSeen)
	})
	return list
}

func makeUICrash(crash corpus.Crash) UICrash {
	return UICrash{
		Signature: crash.Signature,
		Category:  crash.Category,
		Detail:    crash.Detail,
		Hits:      crash.Hits,
		FirstSeen: crash.FirstSeen,
		LastSeen:  crash.LastSeen,
		Ago:       humanize.Time(crash.LastSeen),
		InputLen:  len(crash.Input),
		Minimized: crash.Minimized != nil,
		MinLen:    len(crash.Minimized),
	}
}

func (serv *HTTPServer) httpCrash(w http.ResponseWriter, r *http.Request) {
	corp := serv.Corpus.Load()
	if corp == nil {
		http.Error(w, "the session has not started yet", http.StatusServiceUnavailable)
		return
	}
	crash, ok := corp.Crash(r.FormValue("sig"))
	if !ok {
		http.Error(w, "unknown crash", http.StatusNotFound)
		return
	}
	switch r.FormValue("file") {
	case "input":
		serv.inputPage(w, r, crash.Input)
		return
	case "repro":
		serv.inputPage(w, r, crash.Minimized)
		return
	}
	data := &UICrashPage{
		UIPageHeader: serv.pageHeader(crash.Signature),
		Crash:        makeUICrash(crash),
		Input:        hex.Dump(crash.Input),
		Repro:        hex.Dump(crash.Minimized),
	}
	executeTemplate(w, crashTemplate, data)
}

func (serv *HTTPServer) httpCorpus(w http.ResponseWriter, r *http.Request) {
	corp := serv.Corpus.Load()
	if corp == nil {
		http.Error(w, "the session has not started yet", http.StatusServiceUnavailable)
		return
	}
	data := &UICorpusPage{
		UIPageHeader: serv.pageHeader("corpus"),
	}
	for _, item := range corp.Items() {
		stats := item.Stats()
		data.Inputs = append(data.Inputs, UIInput{
			Sig:      item.Sig,
			Short:    item.Sig[:8],
			Len:      len(item.Input),
			Edges:    item.Signal.Len(),
			NewBits:  item.NewBits,
			Energy:   corp.Energy(item),
			Chosen:   stats.Chosen,
			Children: stats.Children,
			Novel:    stats.Novel,
			Seq:      item.Seq,
			Found:    humanize.Time(item.Found),
		})
	}
	sort.Slice(data.Inputs, func(i, j int) bool {
		return data.Inputs[i].Seq < data.Inputs[j].Seq
	})
	executeTemplate(w, corpusTemplate, data)
}

func (serv *HTTPServer) httpInput(w http.ResponseWriter, r *http.Request) {
	corp := serv.Corpus.Load()
	if corp == nil {
		http.Error(w, "the session has not started yet", http.StatusServiceUnavailable)
		return
	}
	sig, err := hash.FromString(r.FormValue("sig"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	item := corp.Item(sig.String())
	if item == nil {
		http.Error(w, "can't find the input", http.StatusNotFound)
		return
	}
	serv.inputPage(w, r, item.Input)
}

// inputPage shows a hex dump of the input, or the input itself with ?raw=1.
func (serv *HTTPServer) inputPage(w http.ResponseWriter, r *http.Request, input []byte) {
	if r.FormValue("raw") != "" {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(input)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, hex.Dump(input))
}

func (serv *HTTPServer) httpAddCandidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "only POST method supported", http.StatusMethodNotAllowed)
		return
	}
	fz := serv.Fuzzer.Load()
	if fz == nil {
		http.Error(w, "the session has not started yet", http.StatusServiceUnavailable)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, int64(serv.Cfg.MaxInputLen)+1))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(data) > serv.Cfg.MaxInputLen {
		http.Error(w, "the input is too long", http.StatusBadRequest)
		return
	}
	fz.AddCandidates([]fuzzer.Candidate{{Input: data}})
	w.Write([]byte("added"))
}

func (serv *HTTPServer) httpJobs(w http.ResponseWriter, r *http.Request) {
	var list []*fuzzer.JobInfo
	if fz := serv.Fuzzer.Load(); fz != nil {
		list = fz.RunningJobs()
	}
	if key := r.FormValue("id"); key != "" {
		for _, item := range list {
			if item.ID() == key {
				w.Write(item.Bytes())
				return
			}
		}
		http.Error(w, "invalid job id (the job has likely already finished)", http.StatusBadRequest)
		return
	}
	jobType := r.FormValue("type")
	data := &UIJobList{
		UIPageHeader: serv.pageHeader(strings.TrimSpace(jobType + " jobs")),
	}
	for _, item := range list {
		if jobType != "" && item.Type != jobType {
			continue
		}
		data.Jobs = append(data.Jobs, UIJobInfo{
			ID:    item.ID(),
			Short: item.Name,
			Type:  item.Type,
			Execs: item.Execs.Load(),
		})
	}
	sort.Slice(data.Jobs, func(i, j int) bool {
		a, b := data.Jobs[i], data.Jobs[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Execs > b.Execs
	})
	executeTemplate(w, jobListTemplate, data)
}

func (serv *HTTPServer) httpWorkers(w http.ResponseWriter, r *http.Request) {
	s := serv.Server.Load()
	if s == nil {
		http.Error(w, "the session has not started yet", http.StatusServiceUnavailable)
		return
	}
	data := &UIWorkerList{
		UIPageHeader: serv.pageHeader("workers"),
	}
	for name, state := range s.WorkerState() {
		data.Workers = append(data.Workers, UIWorkerInfo{
			Name:  name,
			Proc:  state.Proc,
			State: workerStates[state.State],
			Since: time.Since(state.Timestamp).Truncate(time.Second).String(),
		})
	}
	sort.Slice(data.Workers, func(i, j int) bool {
		return data.Workers[i].Proc < data.Workers[j].Proc
	})
	executeTemplate(w, workerListTemplate, data)
}

var workerStates = map[int]string{
	rpcserver.StateOffline:  "offline",
	rpcserver.StateStarting: "starting",
	rpcserver.StateFuzzing:  "fuzzing",
}

func (serv *HTTPServer) httpLog(w http.ResponseWriter, r *http.Request) {
	serv.textPage(w, r, "log", []byte(log.CachedLogOutput()))
}

func (serv *HTTPServer) httpConfig(w http.ResponseWriter, r *http.Request) {
	serv.jsonPage(w, r, "config", serv.Cfg)
}

func (serv *HTTPServer) httpStats(w http.ResponseWriter, r *http.Request) {
	vals := make(map[string]int)
	for _, val := range stat.Collect(stat.All) {
		vals[val.Name] = val.V
	}
	serv.jsonPage(w, r, "stats", vals)
}

func (serv *HTTPServer) jsonPage(w http.ResponseWriter, r *http.Request, title string, data any) {
	text, err := json.MarshalIndent(data, "", "\t")
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to encode json: %v", err), http.StatusInternalServerError)
		return
	}
	serv.textPage(w, r, title, text)
}

func (serv *HTTPServer) textPage(w http.ResponseWriter, r *http.Request, title string, text []byte) {
	if r.FormValue("raw") != "" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write(text)
		return
	}
	data := &UITextPage{
		UIPageHeader: serv.pageHeader(title),
		Text:         string(text),
	}
	executeTemplate(w, textTemplate, data)
}

func executeTemplate(w http.ResponseWriter, templ *template.Template, data any) {
	buf := new(bytes.Buffer)
	if err := templ.Execute(buf, data); err != nil {
		log.Logf(0, "failed to execute template: %v", err)
		http.Error(w, fmt.Sprintf("failed to execute template: %v", err), http.StatusInternalServerError)
		return
	}
	w.Write(buf.Bytes())
}

type UIPageHeader struct {
	Name    string
	Title   string
	Session string
}

type UISummaryData struct {
	UIPageHeader
	Uptime      string
	Phase       string
	StopReason  string
	TargetEdges int
	Blind       string
	Stats       []UIStat
	Crashes     []UICrash
	Log         string
}

type UIStat struct {
	Name  string
	Value string
	Hint  string
}

type UICrash struct {
	Signature string
	Category  string
	Detail    string
	Hits      int
	FirstSeen time.Time
	LastSeen  time.Time
	Ago       string
	InputLen  int
	Minimized bool
	MinLen    int
}

type UICrashPage struct {
	UIPageHeader
	Crash UICrash
	Input string
	Repro string
}

type UICorpusPage struct {
	UIPageHeader
	Inputs []UIInput
}

type UIInput struct {
	Sig      string
	Short    string
	Len      int
	Edges    int
	NewBits  int
	Energy   int64
	Chosen   int64
	Children int64
	Novel    int64
	Seq      int64
	Found    string
}

type UIJobList struct {
	UIPageHeader
	Jobs []UIJobInfo
}

type UIJobInfo struct {
	ID    string
	Short string
	Type  string
	Execs int32
}

type UIWorkerList struct {
	UIPageHeader
	Workers []UIWorkerInfo
}

type UIWorkerInfo struct {
	Name  string
	Proc  int
	State string
	Since string
}

type UITextPage struct {
	UIPageHeader
	Text string
}

func pageTemplate(body string) *template.Template {
	return template.Must(template.Must(template.New("").Parse(headerTemplate)).Parse(body))
}

const headerTemplate = `
{{define "header"}}<!doctype html>
<html>
<head>
	<title>{{.Name}} {{.Title}}</title>
	<style>
		body { font-family: monospace; font-size: 13px; }
		table { border-collapse: collapse; }
		td, th { border: 1px solid #ccc; padding: 2px 6px; text-align: left; }
		pre { white-space: pre-wrap; }
	</style>
</head>
<body>
<b>{{.Name}}</b> session {{.Session}} |
<a href="/">summary</a> |
<a href="/corpus">corpus</a> |
<a href="/jobs">jobs</a> |
<a href="/workers">workers</a> |
<a href="/log">log</a> |
<a href="/config">config</a> |
<a href="/metrics">metrics</a>
<h2>{{.Title}}</h2>
{{end}}
{{define "footer"}}</body></html>{{end}}
`

var summaryTemplate = pageTemplate(`
{{template "header" .}}
<table>
	<tr><td>uptime</td><td>{{.Uptime}}</td></tr>
	<tr><td>phase</td><td>{{.Phase}}</td></tr>
	{{if .StopReason}}<tr><td>stopped</td><td>{{.StopReason}}</td></tr>{{end}}
	<tr><td>target edges</td><td>{{.TargetEdges}}</td></tr>
	{{if .Blind}}<tr><td>uninstrumented</td><td>{{.Blind}}</td></tr>{{end}}
	{{range $s := .Stats}}
	<tr><td title="{{$s.Hint}}">{{$s.Name}}</td><td>{{$s.Value}}</td></tr>
	{{end}}
</table>
<h3>crashes ({{len .Crashes}})</h3>
<table>
	<tr><th>signature</th><th>category</th><th>hits</th><th>last</th><th>input</th><th>repro</th></tr>
	{{range $c := .Crashes}}
	<tr>
		<td><a href="/crash?sig={{$c.Signature}}">{{$c.Signature}}</a></td>
		<td>{{$c.Category}}</td>
		<td>{{$c.Hits}}</td>
		<td>{{$c.Ago}}</td>
		<td><a href="/crash?sig={{$c.Signature}}&file=input">{{$c.InputLen}} bytes</a></td>
		<td>{{if $c.Minimized}}<a href="/crash?sig={{$c.Signature}}&file=repro">{{$c.MinLen}} bytes</a>{{end}}</td>
	</tr>
	{{end}}
</table>
<h3>log</h3>
<pre>{{.Log}}</pre>
{{template "footer"}}
`)

var crashTemplate = pageTemplate(`
{{template "header" .}}
<table>
	<tr><td>category</td><td>{{.Crash.Category}}</td></tr>
	<tr><td>hits</td><td>{{.Crash.Hits}}</td></tr>
	<tr><td>first seen</td><td>{{.Crash.FirstSeen}}</td></tr>
	<tr><td>last seen</td><td>{{.Crash.LastSeen}}</td></tr>
</table>
<pre>{{.Crash.Detail}}</pre>
<h3><a href="/crash?sig={{.Crash.Signature}}&file=input&raw=1">input</a></h3>
<pre>{{.Input}}</pre>
{{if .Crash.Minimized}}
<h3><a href="/crash?sig={{.Crash.Signature}}&file=repro&raw=1">minimized</a></h3>
<pre>{{.Repro}}</pre>
{{end}}
{{template "footer"}}
`)

var corpusTemplate = pageTemplate(`
{{template "header" .}}
<table>
	<tr><th>#</th><th>input</th><th>len</th><th>edges</th><th>new bits</th>
	<th>energy</th><th>chosen</th><th>children</th><th>novel</th><th>found</th></tr>
	{{range $i := .Inputs}}
	<tr>
		<td>{{$i.Seq}}</td>
		<td><a href="/input?sig={{$i.Sig}}">{{$i.Short}}</a></td>
		<td>{{$i.Len}}</td>
		<td>{{$i.Edges}}</td>
		<td>{{$i.NewBits}}</td>
		<td>{{$i.Energy}}</td>
		<td>{{$i.Chosen}}</td>
		<td>{{$i.Children}}</td>
		<td>{{$i.Novel}}</td>
		<td>{{$i.Found}}</td>
	</tr>
	{{end}}
</table>
{{template "footer"}}
`)

var jobListTemplate = pageTemplate(`
{{template "header" .}}
<table>
	<tr><th>job</th><th>type</th><th>execs</th></tr>
	{{range $j := .Jobs}}
	<tr>
		<td><a href="/jobs?id={{$j.ID}}">{{$j.Short}}</a></td>
		<td><a href="/jobs?type={{$j.Type}}">{{$j.Type}}</a></td>
		<td>{{$j.Execs}}</td>
	</tr>
	{{end}}
</table>
{{template "footer"}}
`)

var workerListTemplate = pageTemplate(`
{{template "header" .}}
<table>
	<tr><th>worker</th><th>proc</th><th>state</th><th>since</th></tr>
	{{range $w := .Workers}}
	<tr><td>{{$w.Name}}</td><td>{{$w.Proc}}</td><td>{{$w.State}}</td><td>{{$w.Since}}</td></tr>
	{{end}}
</table>
{{template "footer"}}
`)

var textTemplate = pageTemplate(`
{{template "header" .}}
<pre>{{.Text}}</pre>
{{template "footer"}}
`)
