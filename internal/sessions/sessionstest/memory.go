// Package sessionstest provides an in-memory sessions.Repository for tests.
package sessionstest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/creatus-team/v3/internal/option"
	"github.com/creatus-team/v3/internal/schedule"
	"github.com/creatus-team/v3/internal/sessions"
)

// Memory is a map-backed repository. It enforces the same slot overlap rule
// as the database exclusion constraint.
type Memory struct {
	mu            sync.Mutex
	users         map[uuid.UUID]sessions.User
	coaches       map[uuid.UUID]sessions.Coach
	slots         map[uuid.UUID]sessions.Slot
	sessions      map[uuid.UUID]sessions.Session
	postponements []sessions.Postponement
	clock         time.Time
}

var _ sessions.Repository = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		users:    map[uuid.UUID]sessions.User{},
		coaches:  map[uuid.UUID]sessions.Coach{},
		slots:    map[uuid.UUID]sessions.Slot{},
		sessions: map[uuid.UUID]sessions.Session{},
		clock:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns strictly increasing creation timestamps.
func (m *Memory) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

// AddCoach seeds a coach.
func (m *Memory) AddCoach(name string, grade sessions.Grade, phone string) sessions.Coach {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := sessions.Coach{ID: uuid.New(), Name: name, Grade: grade, MaxSlots: 10}
	if phone != "" {
		c.Phone = &phone
	}
	m.coaches[c.ID] = c
	return c
}

// AddSlot seeds an active slot.
func (m *Memory) AddSlot(coachID uuid.UUID, day schedule.Day, start string) sessions.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	link := "https://open.kakao.com/o/" + start
	end, _ := option.EndTime(start)
	sl := sessions.Slot{ID: uuid.New(), CoachID: coachID, Day: day, StartTime: start, EndTime: end, OpenChatLink: &link, IsActive: true}
	m.slots[sl.ID] = sl
	return sl
}

// AddUser seeds a user.
func (m *Memory) AddUser(name, phone string) sessions.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := sessions.User{ID: uuid.New(), Name: name, Phone: phone, CreatedAt: m.tick()}
	m.users[u.ID] = u
	return u
}

// Sessions returns every stored session ordered by creation.
func (m *Memory) Sessions() []sessions.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sessions.Session, 0, len(m.sessions))
	for _, ss := range m.sessions {
		out = append(out, ss)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Postponements returns every stored postponement.
func (m *Memory) Postponements() []sessions.Postponement {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sessions.Postponement(nil), m.postponements...)
}

func (m *Memory) FindUserByPhone(_ context.Context, phone string) (*sessions.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone == phone {
			u := u
			return &u, nil
		}
	}
	return nil, sessions.ErrNotFound
}

func (m *Memory) GetUser(_ context.Context, id uuid.UUID) (*sessions.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return &u, nil
}

func (m *Memory) FindOrCreateUser(ctx context.Context, name, phone, email string) (*sessions.User, error) {
	if u, err := m.FindUserByPhone(ctx, phone); err == nil {
		return u, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u := sessions.User{ID: uuid.New(), Name: name, Phone: phone, CreatedAt: m.tick()}
	if email != "" {
		u.Email = &email
	}
	m.users[u.ID] = u
	return &u, nil
}

func (m *Memory) DeleteUser(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *Memory) FindCoachByName(_ context.Context, name string) (*sessions.Coach, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coaches {
		if c.Name == name {
			c := c
			return &c, nil
		}
	}
	return nil, sessions.ErrNotFound
}

func (m *Memory) GetCoach(_ context.Context, id uuid.UUID) (*sessions.Coach, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.coaches[id]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return &c, nil
}

func (m *Memory) FindActiveSlot(_ context.Context, coachID uuid.UUID, day schedule.Day, startTime string) (*sessions.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sl := range m.slots {
		if sl.CoachID == coachID && sl.Day == day && sl.StartTime == startTime && sl.IsActive {
			sl := sl
			return &sl, nil
		}
	}
	return nil, sessions.ErrNotFound
}

func (m *Memory) GetSlot(_ context.Context, id uuid.UUID) (*sessions.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[id]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return &sl, nil
}

func (m *Memory) SaveSlot(_ context.Context, sl *sessions.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[sl.ID]; !ok {
		return sessions.ErrNotFound
	}
	m.slots[sl.ID] = *sl
	return nil
}

func (m *Memory) DeleteSlot(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[id]; !ok {
		return sessions.ErrNotFound
	}
	delete(m.slots, id)
	return nil
}

func overlaps(a, b sessions.Session) bool {
	return a.SlotID == b.SlotID && !a.StartDate.After(b.EndDate) && !b.StartDate.After(a.EndDate)
}

// conflicts reports whether ss would violate the slot exclusion rule.
func (m *Memory) conflicts(ss sessions.Session) bool {
	if !ss.Status.Occupying() {
		return false
	}
	for _, other := range m.sessions {
		if other.ID != ss.ID && other.Status.Occupying() && overlaps(ss, other) {
			return true
		}
	}
	return false
}

func (m *Memory) CreateSession(_ context.Context, ss *sessions.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ss.ID == uuid.Nil {
		ss.ID = uuid.New()
	}
	if ss.Status == "" {
		ss.Status = sessions.StatusPending
	}
	if m.conflicts(*ss) {
		return sessions.ErrSlotOccupied
	}
	ss.CreatedAt = m.tick()
	m.sessions[ss.ID] = *ss
	return nil
}

func (m *Memory) GetSession(_ context.Context, id uuid.UUID) (*sessions.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss, ok := m.sessions[id]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return &ss, nil
}

func (m *Memory) view(ss sessions.Session) sessions.View {
	v := sessions.View{Session: ss}
	if u, ok := m.users[ss.UserID]; ok {
		v.UserName, v.UserPhone = u.Name, u.Phone
	}
	if c, ok := m.coaches[ss.CoachID]; ok {
		v.CoachName, v.CoachPhone, v.CoachGrade = c.Name, c.Phone, c.Grade
	}
	if sl, ok := m.slots[ss.SlotID]; ok {
		v.OpenChatLink = sl.OpenChatLink
	}
	return v
}

func (m *Memory) GetView(_ context.Context, id uuid.UUID) (*sessions.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss, ok := m.sessions[id]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	v := m.view(ss)
	return &v, nil
}

func (m *Memory) filter(keep func(sessions.Session) bool) []sessions.Session {
	var out []sessions.Session
	for _, ss := range m.sessions {
		if keep(ss) {
			out = append(out, ss)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *Memory) views(list []sessions.Session) []sessions.View {
	out := make([]sessions.View, 0, len(list))
	for _, ss := range list {
		out = append(out, m.view(ss))
	}
	return out
}

func (m *Memory) OccupyingOnSlot(_ context.Context, slotID uuid.UUID) ([]sessions.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.filter(func(ss sessions.Session) bool { return ss.SlotID == slotID && ss.Status.Occupying() })
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (m *Memory) OccupyingByUser(_ context.Context, userID uuid.UUID) ([]sessions.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.views(m.filter(func(ss sessions.Session) bool { return ss.UserID == userID && ss.Status.Occupying() })), nil
}

func (m *Memory) OccupyingByUserCoachDay(_ context.Context, userID, coachID uuid.UUID, day schedule.Day) ([]sessions.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.views(m.filter(func(ss sessions.Session) bool {
		return ss.UserID == userID && ss.CoachID == coachID && ss.Day == day && ss.Status.Occupying()
	})), nil
}

func (m *Memory) Terminate(_ context.Context, id uuid.UUID, t sessions.Termination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss, ok := m.sessions[id]
	if !ok {
		return sessions.ErrNotFound
	}
	ss.Status = t.Status
	cancelled, eta := t.CancelledAt, t.EarlyTerminatedAt
	ss.CancelledAt, ss.EarlyTerminatedAt = &cancelled, &eta
	if t.Reason != "" {
		r := t.Reason
		ss.CancellationReason = &r
	}
	if t.EarlyReason != "" {
		r := t.EarlyReason
		ss.EarlyTerminationReason = &r
	}
	m.sessions[id] = ss
	return nil
}

func (m *Memory) UpdateEndDate(_ context.Context, id uuid.UUID, end time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss, ok := m.sessions[id]
	if !ok {
		return sessions.ErrNotFound
	}
	ss.EndDate = end
	if m.conflicts(ss) {
		return sessions.ErrSlotOccupied
	}
	m.sessions[id] = ss
	return nil
}

func (m *Memory) ActivateDue(_ context.Context, today time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, ss := range m.sessions {
		if ss.Status == sessions.StatusPending && !ss.StartDate.After(today) {
			ss.Status = sessions.StatusActive
			m.sessions[id] = ss
			n++
		}
	}
	return n, nil
}

func (m *Memory) ExpireDue(_ context.Context, today time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, ss := range m.sessions {
		if ss.Status == sessions.StatusActive && ss.EndDate.Before(today) {
			ss.Status = sessions.StatusExpired
			m.sessions[id] = ss
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListSettled(_ context.Context, from, to time.Time) ([]sessions.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	settled := map[string]bool{}
	for _, st := range sessions.SettledStatuses {
		settled[st] = true
	}
	return m.views(m.filter(func(ss sessions.Session) bool {
		return settled[string(ss.Status)] && !ss.StartDate.After(to) && !ss.EndDate.Before(from)
	})), nil
}

func (m *Memory) ListActiveOn(_ context.Context, date time.Time) ([]sessions.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.views(m.filter(func(ss sessions.Session) bool {
		return ss.Status == sessions.StatusActive && schedule.IsLessonDay(ss.Window(), date)
	}))
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func (m *Memory) RescheduleSlotSessions(_ context.Context, slotID uuid.UUID, day schedule.Day, startTime string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, ss := range m.sessions {
		if ss.SlotID == slotID && ss.Status.Occupying() {
			ss.Day, ss.StartTime = day, startTime
			m.sessions[id] = ss
			n++
		}
	}
	return n, nil
}

func (m *Memory) ReassignSessions(_ context.Context, from, to uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, ss := range m.sessions {
		if ss.UserID == from {
			ss.UserID = to
			m.sessions[id] = ss
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListPostponements(_ context.Context, sessionID uuid.UUID) ([]sessions.Postponement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sessions.Postponement
	for _, p := range m.postponements {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (m *Memory) InsertPostponements(_ context.Context, sessionID uuid.UUID, dates []time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range dates {
		p := sessions.Postponement{ID: uuid.New(), SessionID: sessionID, Date: d}
		if reason != "" {
			r := reason
			p.Reason = &r
		}
		m.postponements = append(m.postponements, p)
	}
	return nil
}

func (m *Memory) PostponedDates(_ context.Context, sessionIDs []uuid.UUID) (map[uuid.UUID]map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		want[id] = true
	}
	out := map[uuid.UUID]map[string]bool{}
	for _, p := range m.postponements {
		if !want[p.SessionID] {
			continue
		}
		if out[p.SessionID] == nil {
			out[p.SessionID] = map[string]bool{}
		}
		out[p.SessionID][schedule.DateString(p.Date)] = true
	}
	return out, nil
}

// InTx runs fn and restores the prior state when it fails.
func (m *Memory) InTx(_ context.Context, fn func(tx sessions.Repository) error) error {
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	users         map[uuid.UUID]sessions.User
	slots         map[uuid.UUID]sessions.Slot
	sessions      map[uuid.UUID]sessions.Session
	postponements []sessions.Postponement
}

func (m *Memory) snapshot() snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := snapshot{
		users:         make(map[uuid.UUID]sessions.User, len(m.users)),
		slots:         make(map[uuid.UUID]sessions.Slot, len(m.slots)),
		sessions:      make(map[uuid.UUID]sessions.Session, len(m.sessions)),
		postponements: append([]sessions.Postponement(nil), m.postponements...),
	}
	for k, v := range m.users {
		s.users[k] = v
	}
	for k, v := range m.slots {
		s.slots[k] = v
	}
	for k, v := range m.sessions {
		s.sessions[k] = v
	}
	return s
}

func (m *Memory) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users, m.slots, m.sessions, m.postponements = s.users, s.slots, s.sessions, s.postponements
}
