package browsertest

import (
	"html/template"
	"net/http"
	"sync"
)

// Paths served by RecoruHandler.
const (
	LoginPath      = "/ap/login"
	AttendancePath = "/ap/attendance"
)

// RecoruSite describes the account and the attendance data served by
// RecoruHandler. Rows with a positive RevealAt are appended to the table
// once the window has scrolled that far.
type RecoruSite struct {
	ContractID string
	AuthID     string
	Password   string

	Rows         []Row
	PreviousRows []Row
}

// RecoruHandler serves a browser-side imitation of the Recoru login page and
// attendance table, using the production markup.
type RecoruHandler struct {
	site RecoruSite

	mu     sync.Mutex
	logins int
}

// NewRecoruHandler creates a handler for site.
func NewRecoruHandler(site RecoruSite) *RecoruHandler {
	return &RecoruHandler{site: site}
}

// Logins counts successful logins.
func (h *RecoruHandler) Logins() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logins
}

func (h *RecoruHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch r.URL.Path {
	case LoginPath:
		_ = loginPage.Execute(w, h.site)
	case AttendancePath:
		h.mu.Lock()
		h.logins++
		h.mu.Unlock()

		period, rows := "0", h.site.Rows
		if r.URL.Query().Get("period") == "-1" {
			period, rows = "-1", h.site.PreviousRows
		}
		if rows == nil {
			rows = []Row{}
		}
		_ = attendancePage.Execute(w, map[string]any{"Period": period, "Rows": rows})
	default:
		http.NotFound(w, r)
	}
}

var loginPage = template.Must(template.New("login").Parse(`<!doctype html>
<html><head><title>Login</title></head>
<body>
<form onsubmit="return false">
  <input id="contractId" type="text">
  <input id="authId" type="text">
  <input id="password" type="password">
  <input class="common-btn submit" type="button" value="Login">
</form>
<p id="login-error" style="display:none">Invalid credentials</p>
<script>
const expected = {c: {{.ContractID}}, a: {{.AuthID}}, p: {{.Password}}};
document.querySelector('input.common-btn.submit').addEventListener('click', () => {
  const v = id => document.getElementById(id).value;
  if (v('contractId') === expected.c && v('authId') === expected.a && v('password') === expected.p) {
    location.href = '/ap/attendance';
  } else {
    document.getElementById('login-error').style.display = 'block';
  }
});
</script>
</body></html>`))

var attendancePage = template.Must(template.New("attendance").Parse(`<!doctype html>
<html><head><title>Attendance</title>
<style>
body { margin: 0; font-family: sans-serif; }
table.attendance-table { width: 560px; border-collapse: collapse; }
table.attendance-table td { height: 60px; border: 1px solid #ccc; }
td.item-attendKbn { width: 40px; }
#form { display: none; position: fixed; top: 10px; left: 580px; background: #fff; padding: 8px; }
#spacer { height: 1500px; }
</style></head>
<body>
<select id="periodPoint">
  <option value="0">This month</option>
  <option value="-1">Last month</option>
</select>
<table class="attendance-table"><tbody id="rows"></tbody></table>
<div id="form">
  <select id="chartDto.attendanceDtos[0].attendId">
    <option value="">--</option>
    <option value="1">Regular</option>
    <option value="2">Leave</option>
  </select>
  <input id="chartDto.attendanceDtos[0].worktimeStart" type="text">
  <input id="chartDto.attendanceDtos[0].worktimeEnd" type="text">
  <input id="UPDATE-BTN" type="button" value="Update">
</div>
<div id="spacer"></div>
<script>
const period = {{.Period}};
let pending = {{.Rows}};
let current = null;
window.__corrections = 0;

const byId = id => document.getElementById(id);
const category = byId('chartDto.attendanceDtos[0].attendId');
const start = byId('chartDto.attendanceDtos[0].worktimeStart');
const end = byId('chartDto.attendanceDtos[0].worktimeEnd');
const form = byId('form');

byId('periodPoint').value = period;
byId('periodPoint').addEventListener('change', e => {
  location.href = '/ap/attendance?period=' + e.target.value;
});

function cell(tr, cls) { return tr.querySelector('td.' + cls); }

function addRow(r) {
  const tr = document.createElement('tr');
  tr.innerHTML = '<td class="date-cell"></td><td class="day-of-week-cell"></td><td class="item-attendKbn"></td>' +
    '<td class="start-time-cell"></td><td class="end-time-cell"></td><td class="status-cell"></td>';
  cell(tr, 'date-cell').textContent = r.Date;
  cell(tr, 'day-of-week-cell').textContent = r.DayOfWeek;
  cell(tr, 'start-time-cell').textContent = r.Start;
  cell(tr, 'end-time-cell').textContent = r.End;
  cell(tr, 'status-cell').textContent = r.Status;
  const attend = cell(tr, 'item-attendKbn');
  if (r.Error) {
    attend.classList.add('bg-err', 'tip');
  }
  attend.addEventListener('click', () => {
    if (!attend.classList.contains('bg-err')) return;
    current = tr;
    category.value = '';
    start.value = cell(tr, 'start-time-cell').textContent;
    end.value = cell(tr, 'end-time-cell').textContent;
    form.style.display = 'block';
  });
  byId('rows').appendChild(tr);
}

function reveal() {
  const y = window.scrollY;
  const ready = pending.filter(r => r.RevealAt <= y);
  pending = pending.filter(r => r.RevealAt > y);
  ready.forEach(addRow);
}

byId('UPDATE-BTN').addEventListener('click', () => {
  if (!current) return;
  if (!confirm('Update attendance for ' + cell(current, 'date-cell').textContent + '?')) return;
  const valid = /^\d\d:\d\d$/;
  if (category.value !== '1' || !valid.test(start.value) || !valid.test(end.value)) return;
  cell(current, 'start-time-cell').textContent = start.value;
  cell(current, 'end-time-cell').textContent = end.value;
  cell(current, 'status-cell').textContent = 'ok';
  cell(current, 'item-attendKbn').classList.remove('bg-err', 'tip');
  form.style.display = 'none';
  current = null;
  window.__corrections++;
});

window.addEventListener('scroll', reveal);
reveal();
</script>
</body></html>`))
