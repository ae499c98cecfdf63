package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/ytakahashi/todo-sync/internal/auth"
	"github.com/ytakahashi/todo-sync/internal/models"
)

type Task = models.Task

var ErrMissingTaskID = errors.New("task id is required")

// TodoService scopes every task operation to the current principal's
// users/{uid}/tasks collection. Failures come back as failed Results.
type TodoService struct {
	store     DocumentStore
	principal auth.PrincipalProvider
}

func NewTodoService(store DocumentStore, principal auth.PrincipalProvider) *TodoService {
	return &TodoService{
		store:     store,
		principal: principal,
	}
}

// resolveUserCollection is evaluated on every call so a sign-out is observed
// by the next operation.
func (s *TodoService) resolveUserCollection(ctx context.Context) (CollectionPath, error) {
	uid, ok := s.principal.CurrentPrincipalID(ctx)
	if !ok || uid == "" {
		return nil, ErrNotAuthenticated
	}
	return Collection("users", uid, "tasks"), nil
}

func (s *TodoService) taskRef(ctx context.Context, id string) (DocumentRef, error) {
	coll, err := s.resolveUserCollection(ctx)
	if err != nil {
		return DocumentRef{}, err
	}
	if strings.TrimSpace(id) == "" {
		return DocumentRef{}, ErrMissingTaskID
	}
	return coll.Doc(id), nil
}

// ListTasks returns the principal's tasks, newest first.
func (s *TodoService) ListTasks(ctx context.Context) models.Result[[]Task] {
	tasks, err := s.listTasks(ctx)
	if err != nil {
		log.Printf("Get tasks error: %v", err)
		return models.Fail[[]Task](err)
	}
	return models.Ok(tasks)
}

func (s *TodoService) listTasks(ctx context.Context) ([]Task, error) {
	coll, err := s.resolveUserCollection(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := s.store.GetDocuments(ctx, coll, models.FieldCreatedAt, Desc)
	if err != nil {
		return nil, err
	}

	return decodeTasks(docs), nil
}

// Subscribe delivers the complete ordered task list on every change until the
// returned func is called. A channel error is delivered once as a failed Result
// and the channel is not reopened. Without a principal the callback never runs.
func (s *TodoService) Subscribe(ctx context.Context, onUpdate func(models.Result[[]Task])) func() {
	coll, err := s.resolveUserCollection(ctx)
	if err != nil {
		log.Printf("Subscribe tasks error: %v", err)
		return func() {}
	}

	return s.store.Subscribe(ctx, coll, models.FieldCreatedAt, Desc,
		func(docs []Document) {
			onUpdate(models.Ok(decodeTasks(docs)))
		},
		func(err error) {
			if !errors.Is(err, ErrSubscriptionChannel) {
				err = errors.Join(ErrSubscriptionChannel, err)
			}
			log.Printf("Subscribe tasks error: %v", err)
			onUpdate(models.Fail[[]Task](err))
		},
	)
}

// AddTask trims both fields and stores a new incomplete task stamped with the
// store's clock.
func (s *TodoService) AddTask(ctx context.Context, title, description string) models.Result[Task] {
	coll, err := s.resolveUserCollection(ctx)
	if err != nil {
		return models.Fail[Task](err)
	}

	task := Task{
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		Completed:   false,
	}

	wr, err := s.store.AddDocument(ctx, coll, map[string]any{
		models.FieldTitle:       task.Title,
		models.FieldDescription: task.Description,
		models.FieldCompleted:   task.Completed,
		models.FieldCreatedAt:   s.store.ServerTimestamp(),
		models.FieldUpdatedAt:   s.store.ServerTimestamp(),
	})
	if err != nil {
		log.Printf("Add task error: %v", err)
		return models.Fail[Task](err)
	}

	task.ID = wr.ID
	task.CreatedAt = wr.UpdateTime
	task.UpdatedAt = wr.UpdateTime
	return models.Ok(task)
}

// UpdateTask applies the given title/description and refreshes updatedAt.
func (s *TodoService) UpdateTask(ctx context.Context, id string, upd models.TaskUpdate) models.Result[models.Empty] {
	ref, err := s.taskRef(ctx, id)
	if err != nil {
		return models.Fail[models.Empty](err)
	}

	fields := map[string]any{
		models.FieldUpdatedAt: s.store.ServerTimestamp(),
	}
	if upd.Title != nil {
		fields[models.FieldTitle] = strings.TrimSpace(*upd.Title)
	}
	if upd.Description != nil {
		fields[models.FieldDescription] = strings.TrimSpace(*upd.Description)
	}

	if err := s.store.UpdateDocument(ctx, ref, fields); err != nil {
		log.Printf("Update task error: %v", err)
		return models.Fail[models.Empty](err)
	}
	return models.Ok(models.Empty{})
}

func (s *TodoService) DeleteTask(ctx context.Context, id string) models.Result[models.Empty] {
	ref, err := s.taskRef(ctx, id)
	if err != nil {
		return models.Fail[models.Empty](err)
	}

	if err := s.store.DeleteDocument(ctx, ref); err != nil {
		log.Printf("Delete task error: %v", err)
		return models.Fail[models.Empty](err)
	}
	return models.Ok(models.Empty{})
}

// ToggleComplete writes !currentCompleted without reading the task first.
// Concurrent toggles with stale values are last-writer-wins.
func (s *TodoService) ToggleComplete(ctx context.Context, id string, currentCompleted bool) models.Result[models.Empty] {
	ref, err := s.taskRef(ctx, id)
	if err != nil {
		return models.Fail[models.Empty](err)
	}

	err = s.store.UpdateDocument(ctx, ref, map[string]any{
		models.FieldCompleted: !currentCompleted,
		models.FieldUpdatedAt: s.store.ServerTimestamp(),
	})
	if err != nil {
		log.Printf("Toggle task error: %v", err)
		return models.Fail[models.Empty](err)
	}
	return models.Ok(models.Empty{})
}

// GetStats summarizes the principal's current tasks.
func (s *TodoService) GetStats(ctx context.Context) models.Result[models.Stats] {
	tasks, err := s.listTasks(ctx)
	if err != nil {
		log.Printf("Get stats error: %v", err)
		return models.Fail[models.Stats](err)
	}
	return models.Ok(models.ComputeStats(tasks))
}

// DeleteAllTasks removes every task of the principal and reports how many went.
func (s *TodoService) DeleteAllTasks(ctx context.Context) models.Result[int] {
	coll, err := s.resolveUserCollection(ctx)
	if err != nil {
		return models.Fail[int](err)
	}

	tasks, err := s.listTasks(ctx)
	if err != nil {
		log.Printf("Delete all tasks error: %v", err)
		return models.Fail[int](err)
	}

	var deleted int
	for _, t := range tasks {
		if err := s.store.DeleteDocument(ctx, coll.Doc(t.ID)); err != nil {
			log.Printf("Delete all tasks error after %d deletions: %v", deleted, err)
			return models.Result[int]{Success: false, Data: deleted, Error: err.Error(), Err: err}
		}
		deleted++
	}
	return models.Ok(deleted)
}

func decodeTasks(docs []Document) []Task {
	tasks := make([]Task, 0, len(docs))
	for _, doc := range docs {
		tasks = append(tasks, decodeTask(doc))
	}
	return tasks
}

func decodeTask(doc Document) Task {
	task := Task{ID: doc.ID}
	task.Title, _ = doc.Fields[models.FieldTitle].(string)
	task.Description, _ = doc.Fields[models.FieldDescription].(string)
	task.Completed, _ = doc.Fields[models.FieldCompleted].(bool)
	task.CreatedAt, _ = doc.Fields[models.FieldCreatedAt].(time.Time)
	task.UpdatedAt, _ = doc.Fields[models.FieldUpdatedAt].(time.Time)
	return task
}
