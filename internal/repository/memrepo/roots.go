package memrepo

import (
	"context"
	"sort"
	"time"

	"datavault-go/internal/model"

	"github.com/juju/errors"
)

type rootRepo struct{ s *Store }

func (r rootRepo) CreateUser(ctx context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[u.ID]; ok {
		return errors.AlreadyExistsf("user %s", u.ID)
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	r.s.users[u.ID] = *u
	return nil
}

func (r rootRepo) FindUser(ctx context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, errors.NotFoundf("user %s", id)
	}
	return &u, nil
}

func (r rootRepo) FindUserByLogin(ctx context.Context, login string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Login == login {
			u := u
			return &u, nil
		}
	}
	return nil, errors.NotFoundf("user %s", login)
}

func (r rootRepo) CreateCollection(ctx context.Context, c *model.Collection) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.collections[c.ID]; ok {
		return errors.AlreadyExistsf("collection %s", c.ID)
	}
	touch(&c.CreatedAt, &c.UpdatedAt)
	r.s.collections[c.ID] = *c
	return nil
}

func (r rootRepo) FindCollection(ctx context.Context, id string) (*model.Collection, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.collections[id]
	if !ok {
		return nil, errors.NotFoundf("collection %s", id)
	}
	return &c, nil
}

func (r rootRepo) Find(ctx context.Context, t model.ResourceType, id string) (model.RootRef, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	switch t {
	case model.ResourceUser:
		if u, ok := r.s.users[id]; ok {
			return model.RootRef{Type: t, ID: id, Size: u.Size}, nil
		}
	case model.ResourceCollection:
		if c, ok := r.s.collections[id]; ok {
			return model.RootRef{Type: t, ID: id, Size: c.Size}, nil
		}
	default:
		return model.RootRef{}, errors.NotValidf("root type %q", t)
	}
	return model.RootRef{}, errors.NotFoundf("%s %s", t, id)
}

func (r rootRepo) IncrementSize(ctx context.Context, t model.ResourceType, id string, delta int64) error {
	return r.update(t, id, func(size int64) int64 { return size + delta })
}

func (r rootRepo) SetSize(ctx context.Context, t model.ResourceType, id string, size int64) error {
	return r.update(t, id, func(int64) int64 { return size })
}

func (r rootRepo) update(t model.ResourceType, id string, fn func(int64) int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	switch t {
	case model.ResourceUser:
		u, ok := r.s.users[id]
		if !ok {
			return errors.NotFoundf("user %s", id)
		}
		u.Size = fn(u.Size)
		r.s.users[id] = u
	case model.ResourceCollection:
		c, ok := r.s.collections[id]
		if !ok {
			return errors.NotFoundf("collection %s", id)
		}
		c.Size = fn(c.Size)
		r.s.collections[id] = c
	default:
		return errors.NotValidf("root type %q", t)
	}
	return nil
}

func (r rootRepo) List(ctx context.Context) ([]model.RootRef, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var roots []model.RootRef
	for id, u := range r.s.users {
		roots = append(roots, model.RootRef{Type: model.ResourceUser, ID: id, Size: u.Size})
	}
	for id, c := range r.s.collections {
		roots = append(roots, model.RootRef{Type: model.ResourceCollection, ID: id, Size: c.Size})
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i].ID < roots[j].ID })
	return roots, nil
}

type assetstoreRepo struct{ s *Store }

func (r assetstoreRepo) Create(ctx context.Context, a *model.Assetstore) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.assetstores {
		if existing.Name == a.Name {
			return errors.AlreadyExistsf("assetstore %q", a.Name)
		}
	}
	a.Current, a.CurrentMark = false, nil
	touch(&a.CreatedAt, &a.UpdatedAt)
	r.s.assetstores[a.ID] = *a
	return nil
}

func (r assetstoreRepo) FindByID(ctx context.Context, id string) (*model.Assetstore, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.assetstores[id]
	if !ok {
		return nil, errors.NotFoundf("assetstore %s", id)
	}
	return &a, nil
}

func (r assetstoreRepo) FindByName(ctx context.Context, name string) (*model.Assetstore, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assetstores {
		if a.Name == name {
			a := a
			return &a, nil
		}
	}
	return nil, errors.NotFoundf("assetstore %s", name)
}

func (r assetstoreRepo) Update(ctx context.Context, a *model.Assetstore) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	old, ok := r.s.assetstores[a.ID]
	if !ok {
		return errors.NotFoundf("assetstore %s", a.ID)
	}
	touch(&a.CreatedAt, &a.UpdatedAt)
	a.Current, a.CurrentMark = old.Current, old.CurrentMark
	r.s.assetstores[a.ID] = *a
	return nil
}

func (r assetstoreRepo) Delete(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.assetstores, id)
	return nil
}

func (r assetstoreRepo) List(ctx context.Context) ([]*model.Assetstore, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*model.Assetstore, 0, len(r.s.assetstores))
	for _, a := range r.s.assetstores {
		a := a
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r assetstoreRepo) FindCurrent(ctx context.Context) (*model.Assetstore, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, a := range r.s.assetstores {
		if a.Current {
			a := a
			return &a, nil
		}
	}
	return nil, errors.NotFoundf("assetstore current")
}

func (r assetstoreRepo) SetCurrent(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.assetstores[id]; !ok {
		return errors.NotFoundf("assetstore %s", id)
	}
	one := int8(1)
	for k, a := range r.s.assetstores {
		if k == id {
			a.Current, a.CurrentMark = true, &one
		} else {
			a.Current, a.CurrentMark = false, nil
		}
		r.s.assetstores[k] = a
	}
	return nil
}

type jobRepo struct{ s *Store }

func (r jobRepo) Save(ctx context.Context, j *model.Job) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j.UpdatedAt = time.Now()
	r.s.jobs[j.ID] = *j
	return nil
}

func (r jobRepo) FindByID(ctx context.Context, id string) (*model.Job, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return nil, errors.NotFoundf("job %s", id)
	}
	return &j, nil
}

func (r jobRepo) RequestCancel(ctx context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[id]; !ok {
		return errors.NotFoundf("job %s", id)
	}
	r.s.canceled[id] = true
	return nil
}

func (r jobRepo) CancelRequested(ctx context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.canceled[id], nil
}
