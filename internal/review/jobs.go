package review

import (
	"fmt"
	"sort"
	"time"

	"tradelens/internal/stats"

	"github.com/google/uuid"
)

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// Job 是异步复盘任务的快照；任务 ID 同时作为 run id。
type Job struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Request   Request           `json:"request"`
	Message   string            `json:"message,omitempty"`
	Failed    []string          `json:"failed,omitempty"`
	Summary   *stats.Statistics `json:"summary,omitempty"`
	Files     []string          `json:"files,omitempty"`
	StartedAt time.Time         `json:"started_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (j *Job) copy() Job {
	if j == nil {
		return Job{}
	}
	out := *j
	out.Request.Symbols = append([]string(nil), j.Request.Symbols...)
	out.Failed = append([]string(nil), j.Failed...)
	out.Files = append([]string(nil), j.Files...)
	if j.Summary != nil {
		sum := *j.Summary
		out.Summary = &sum
	}
	return out
}

// Submit 提交异步复盘，同一时间只执行一个任务，其余排队。
func (s *Service) Submit(req Request) (Job, error) {
	if req.FillsFile == "" && !req.End.After(req.Start) {
		return Job{}, fmt.Errorf("start 必须早于 end")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	now := time.Now()
	job := &Job{
		ID:        req.RunID,
		Status:    JobStatusPending,
		Request:   req,
		StartedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	if _, exists := s.jobs[job.ID]; exists {
		s.mu.Unlock()
		return Job{}, fmt.Errorf("任务已存在: %s", job.ID)
	}
	s.jobs[job.ID] = job
	snapshot := job.copy()
	s.mu.Unlock()
	reviewLog.Infof("任务 %s 提交: symbols=%v", job.ID, req.Symbols)

	go s.runJob(job.ID, req)
	return snapshot, nil
}

func (s *Service) runJob(jobID string, req Request) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		s.setJobStatus(jobID, JobStatusFailed, "服务已关闭")
		return
	}
	defer func() { <-s.sem }()

	s.setJobStatus(jobID, JobStatusRunning, "")
	res, err := s.Run(s.ctx(), req)
	if err != nil {
		s.setJobStatus(jobID, JobStatusFailed, err.Error())
		return
	}
	s.updateJob(jobID, func(j *Job) {
		j.Status = JobStatusDone
		if len(res.Failed) > 0 && len(res.Failed) == len(res.Symbols) {
			j.Status = JobStatusFailed
		}
		j.Failed = append([]string(nil), res.Failed...)
		j.Files = append([]string(nil), res.Files...)
		sum := res.Summary
		j.Summary = &sum
		j.Message = fmt.Sprintf("%d 个交易对，%d 个仓位", len(res.Symbols), res.Summary.Total)
		j.UpdatedAt = time.Now()
	})
}

func (s *Service) setJobStatus(jobID, status, message string) {
	s.updateJob(jobID, func(j *Job) {
		j.Status = status
		j.Message = message
		j.UpdatedAt = time.Now()
	})
}

func (s *Service) updateJob(id string, fn func(*Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// Job 返回任务副本。
func (s *Service) Job(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.copy(), true
}

// Jobs 按提交时间倒序返回所有任务。
func (s *Service) Jobs() []Job {
	s.mu.RLock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
