package dispatch

import (
	"context"
	"reflect"
	"testing"

	"github.com/apiarist/hive/schema"
	"github.com/apiarist/hive/signal"
	"github.com/apiarist/hive/store"
	"github.com/apiarist/hive/store/memstore"
	"github.com/apiarist/hive/urlpath"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type dispatchSkill struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
}

type dispatchContact struct {
	City string `bson:"city"`
	Zip  string `bson:"zip"`
}

type dispatchProfile struct {
	Bio     string          `bson:"bio"`
	Contact dispatchContact `bson:"contact"`
	Skills  []dispatchSkill `bson:"skills"`
}

type dispatchTeam struct {
	ID   string `bson:"_id"`
	Name string `bson:"name"`
}

type dispatchUser struct {
	ID      string          `bson:"_id"`
	Name    string          `bson:"name"`
	Email   string          `bson:"email"`
	Age     int             `bson:"age"`
	Profile dispatchProfile `bson:"profile"`
	Teams   []*dispatchTeam `bson:"teams"`
}

type DispatcherSuite struct {
	suite.Suite
	ctx context.Context
	reg *schema.Registry
	st  *memstore.Store
	bus *signal.Bus
	d   *Dispatcher
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctx = context.Background()
	s.reg = schema.NewRegistry()
	s.Require().NoError(s.reg.Register(dispatchUser{}))
	s.Require().NoError(s.reg.Register(dispatchTeam{}))

	tree, err := s.reg.BuildTree(dispatchUser{})
	s.Require().NoError(err)

	s.st = memstore.New(s.reg)
	s.bus = signal.NewBus()
	s.d = New(Options{
		Registry: s.reg,
		Tree:     tree,
		Store:    s.st,
		Bus:      s.bus,
		Name:     "user",
		PerPage:  3,
	})
}

func (s *DispatcherSuite) path(remainder string) urlpath.Path {
	p, err := urlpath.Parse("user", remainder)
	s.Require().NoError(err)
	return p
}

func (s *DispatcherSuite) saveUser(u *dispatchUser) *dispatchUser {
	s.Require().NoError(s.st.Save(s.ctx, u))
	return u
}

func (s *DispatcherSuite) fetchUser(id string) *dispatchUser {
	found, err := s.st.GetByID(s.ctx, reflect.TypeOf(dispatchUser{}), id)
	s.Require().NoError(err)
	return found.(*dispatchUser)
}

func (s *DispatcherSuite) TestCreateRoot() {
	out, err := s.d.Post(s.ctx, s.path(""), Form{
		"name":  {"Bernardo"},
		"email": {"b@corp.com"},
		"age":   {"35"},
	}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("OK", out.Body)
	s.Require().NotEmpty(out.InstanceID)
	s.Equal("/user/"+out.InstanceID+"/", out.Location)

	created := s.fetchUser(out.InstanceID)
	s.Equal("Bernardo", created.Name)
	s.Equal(35, created.Age)
}

func (s *DispatcherSuite) TestCreateWithDottedKeys() {
	out, err := s.d.Post(s.ctx, s.path(""), Form{
		"name":        {"Bernardo"},
		"profile.bio": {"platform engineer"},
	}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("platform engineer", s.fetchUser(out.InstanceID).Profile.Bio)
}

func (s *DispatcherSuite) TestCreateWithDeepDottedKeys() {
	out, err := s.d.Post(s.ctx, s.path(""), Form{
		"name":                 {"Bernardo"},
		"profile.bio":          {"platform engineer"},
		"profile.contact.city": {"Santiago"},
		"profile.contact.zip":  {"8320000"},
	}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)

	created := s.fetchUser(out.InstanceID)
	s.Equal("platform engineer", created.Profile.Bio)
	s.Equal("Santiago", created.Profile.Contact.City)
	s.Equal("8320000", created.Profile.Contact.Zip)
}

func (s *DispatcherSuite) TestCreateRejectsUnknownFields() {
	out, err := s.d.Post(s.ctx, s.path(""), Form{"payroll": {"1"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusInvalid, out.Status)
	s.Zero(s.st.Count(reflect.TypeOf(dispatchUser{})))
}

func (s *DispatcherSuite) TestCreateRejectsIdentifiedInstance() {
	out, err := s.d.Post(s.ctx, s.path("u1"), Form{"name": {"x"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusInvalid, out.Status)
}

func (s *DispatcherSuite) TestCreateRejectsBadScalars() {
	out, err := s.d.Post(s.ctx, s.path(""), Form{"age": {"not-a-number"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusInvalid, out.Status)
}

func (s *DispatcherSuite) TestGetInstance() {
	s.saveUser(&dispatchUser{ID: "u1", Name: "Bernardo"})

	out, err := s.d.Get(s.ctx, s.path("u1"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("Bernardo", out.Body.(*dispatchUser).Name)
}

func (s *DispatcherSuite) TestGetInstanceMissing() {
	out, err := s.d.Get(s.ctx, s.path("ghost"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusNotFound, out.Status)
}

func (s *DispatcherSuite) TestGetUnknownProperty() {
	s.saveUser(&dispatchUser{ID: "u1"})

	out, err := s.d.Get(s.ctx, s.path("u1/payroll"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusInvalid, out.Status)
}

func (s *DispatcherSuite) TestListPagination() {
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		s.saveUser(&dispatchUser{ID: id, Name: "user-" + id})
	}

	out, err := s.d.Get(s.ctx, s.path(""), Form{}, nil)
	s.Require().NoError(err)
	s.Len(out.Body, 3)

	out, err = s.d.Get(s.ctx, s.path(""), Form{"page": {"2"}}, nil)
	s.Require().NoError(err)
	s.Len(out.Body, 2)

	// Pages past the end clamp to the last page.
	out, err = s.d.Get(s.ctx, s.path(""), Form{"page": {"99"}}, nil)
	s.Require().NoError(err)
	s.Len(out.Body, 2)

	out, err = s.d.Get(s.ctx, s.path(""), Form{"per_page": {"10"}}, nil)
	s.Require().NoError(err)
	s.Len(out.Body, 5)
}

func (s *DispatcherSuite) TestListEmptyCollection() {
	out, err := s.d.Get(s.ctx, s.path(""), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal([]any{}, out.Body)
}

func (s *DispatcherSuite) TestListFilters() {
	s.saveUser(&dispatchUser{ID: "u1", Name: "Bernardo"})
	s.saveUser(&dispatchUser{ID: "u2", Name: "Rafael"})

	out, err := s.d.Get(s.ctx, s.path(""), Form{"name": {"Rafael"}}, nil)
	s.Require().NoError(err)
	items := out.Body.([]any)
	s.Require().Len(items, 1)
	s.Equal("Rafael", items[0].(*dispatchUser).Name)
}

func (s *DispatcherSuite) TestListRejectsBracketKeys() {
	s.saveUser(&dispatchUser{ID: "u1", Name: "Bernardo"})

	out, err := s.d.Get(s.ctx, s.path(""), Form{"teams[]": {"t1"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusInvalid, out.Status)
}

func (s *DispatcherSuite) TestGetNestedCollection() {
	s.saveUser(&dispatchUser{ID: "u1", Teams: []*dispatchTeam{
		{ID: "t1", Name: "backend"},
		{ID: "t2", Name: "infra"},
	}})

	out, err := s.d.Get(s.ctx, s.path("u1/teams"), Form{}, nil)
	s.Require().NoError(err)
	s.Len(out.Body, 2)

	out, err = s.d.Get(s.ctx, s.path("u1/teams/t2"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal("infra", out.Body.(*dispatchTeam).Name)
}

func (s *DispatcherSuite) TestAssociateExisting() {
	s.Require().NoError(s.st.Save(s.ctx, &dispatchTeam{ID: "t1", Name: "backend"}))
	s.saveUser(&dispatchUser{ID: "u1", Name: "Bernardo"})

	out, err := s.d.Post(s.ctx, s.path("u1/teams"), Form{"teams[]": {"t1"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("t1", out.InstanceID)

	user := s.fetchUser("u1")
	s.Require().Len(user.Teams, 1)
	s.Equal("backend", user.Teams[0].Name)
}

func (s *DispatcherSuite) TestAssociateRequiresID() {
	s.saveUser(&dispatchUser{ID: "u1"})

	out, err := s.d.Post(s.ctx, s.path("u1/teams"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusInvalid, out.Status)
}

func (s *DispatcherSuite) TestAssociateUnknownInstance() {
	s.saveUser(&dispatchUser{ID: "u1"})

	out, err := s.d.Post(s.ctx, s.path("u1/teams"), Form{"teams[]": {"t9"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusNotFound, out.Status)
}

func (s *DispatcherSuite) TestCreateAndAssociateEmbedded() {
	s.saveUser(&dispatchUser{ID: "u1"})

	out, err := s.d.Post(s.ctx, s.path("u1/profile"), Form{"bio": {"platform"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("platform", s.fetchUser("u1").Profile.Bio)
}

func (s *DispatcherSuite) TestUpdateInstance() {
	s.saveUser(&dispatchUser{ID: "u1", Name: "Bernardo", Age: 35})

	var delta signal.Delta
	s.bus.Subscribe(signal.PostUpdate, func(ctx context.Context, m *signal.Message) error {
		delta = m.Updated
		return nil
	})

	out, err := s.d.Put(s.ctx, s.path("u1"), Form{"name": {"Rafael"}, "age": {"36"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("OK", out.Body)

	updated := s.fetchUser("u1")
	s.Equal("Rafael", updated.Name)
	s.Equal(36, updated.Age)

	s.Require().NotNil(delta)
	s.Equal(signal.FieldChange{From: "Bernardo", To: "Rafael"}, delta["name"])
	s.Equal(signal.FieldChange{From: 35, To: 36}, delta["age"])
}

func (s *DispatcherSuite) TestUpdateEmbeddedProperty() {
	s.saveUser(&dispatchUser{ID: "u1", Profile: dispatchProfile{Bio: "old"}})

	out, err := s.d.Put(s.ctx, s.path("u1/profile"), Form{"bio": {"new"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("new", s.fetchUser("u1").Profile.Bio)
}

func (s *DispatcherSuite) TestUpdateWithDottedKeys() {
	s.saveUser(&dispatchUser{ID: "u1"})

	out, err := s.d.Put(s.ctx, s.path("u1"), Form{"profile.bio": {"deep"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("deep", s.fetchUser("u1").Profile.Bio)
}

func (s *DispatcherSuite) TestUpdateWithDeepDottedKeys() {
	s.saveUser(&dispatchUser{ID: "u1", Profile: dispatchProfile{Contact: dispatchContact{City: "old town"}}})

	out, err := s.d.Put(s.ctx, s.path("u1"), Form{"profile.contact.city": {"Santiago"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("Santiago", s.fetchUser("u1").Profile.Contact.City)
}

func (s *DispatcherSuite) TestRejectedUpdateLeavesStoredState() {
	s.saveUser(&dispatchUser{ID: "u1", Name: "Bernardo", Age: 35})

	// "age" sorts before "payroll", so the valid assignment lands before
	// the unknown field is rejected.
	out, err := s.d.Put(s.ctx, s.path("u1"), Form{"age": {"36"}, "payroll": {"x"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusInvalid, out.Status)

	stored := s.fetchUser("u1")
	s.Equal(35, stored.Age, "a rejected update must not change stored state")
	s.Equal("Bernardo", stored.Name)
}

func (s *DispatcherSuite) TestUpdateRejections() {
	s.saveUser(&dispatchUser{ID: "u1", Name: "Bernardo"})

	for name, tc := range map[string]struct {
		remainder string
		form      Form
	}{
		"bare collection":      {remainder: "", form: Form{"name": {"x"}}},
		"bracket list keys":    {remainder: "u1", form: Form{"teams[]": {"t1"}}},
		"list of references":   {remainder: "u1/teams", form: Form{"name": {"x"}}},
		"scalar terminal":      {remainder: "u1/name", form: Form{"name": {"x"}}},
		"unidentified element": {remainder: "u1/profile/x/skills", form: Form{"name": {"x"}}},
	} {
		p := s.path(tc.remainder)
		out, err := s.d.Put(s.ctx, p, tc.form, nil)
		s.Require().NoError(err, name)
		s.Equal(StatusInvalid, out.Status, name)
	}

	s.Equal("Bernardo", s.fetchUser("u1").Name)
}

func (s *DispatcherSuite) TestUpdateMissingInstance() {
	out, err := s.d.Put(s.ctx, s.path("ghost"), Form{"name": {"x"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusNotFound, out.Status)
}

func (s *DispatcherSuite) TestDeleteRoot() {
	s.saveUser(&dispatchUser{ID: "u1"})

	out, err := s.d.Delete(s.ctx, s.path("u1"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("OK", out.Body)
	s.Zero(s.st.Count(reflect.TypeOf(dispatchUser{})))

	// A second delete reports FAIL in an OK response.
	out, err = s.d.Delete(s.ctx, s.path("u1"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("FAIL", out.Body)
}

func (s *DispatcherSuite) TestDeleteRequiresID() {
	out, err := s.d.Delete(s.ctx, s.path(""), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusInvalid, out.Status)
}

func (s *DispatcherSuite) TestDeleteAssociationElement() {
	s.saveUser(&dispatchUser{ID: "u1", Teams: []*dispatchTeam{
		{ID: "t1", Name: "backend"},
		{ID: "t2", Name: "infra"},
	}})

	out, err := s.d.Delete(s.ctx, s.path("u1/teams/t1"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("OK", out.Body)

	user := s.fetchUser("u1")
	s.Require().Len(user.Teams, 1)
	s.Equal("t2", user.Teams[0].ID)
}

func (s *DispatcherSuite) TestDeleteAssociationMissingElement() {
	s.saveUser(&dispatchUser{ID: "u1", Teams: []*dispatchTeam{{ID: "t1"}}})

	out, err := s.d.Delete(s.ctx, s.path("u1/teams/t9"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusInvalid, out.Status)
	s.Len(s.fetchUser("u1").Teams, 1)
}

func (s *DispatcherSuite) TestDeleteAssociationRequiresElementKey() {
	s.saveUser(&dispatchUser{ID: "u1", Teams: []*dispatchTeam{{ID: "t1"}}})

	out, err := s.d.Delete(s.ctx, s.path("u1/teams"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusInvalid, out.Status)
}

func (s *DispatcherSuite) TestDeleteScalarAssociation() {
	s.saveUser(&dispatchUser{ID: "u1", Profile: dispatchProfile{Bio: "platform"}})

	out, err := s.d.Delete(s.ctx, s.path("u1/profile"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal(StatusOK, out.Status)
	s.Equal("OK", out.Body)
	s.Zero(s.fetchUser("u1").Profile)

	// Clearing an already empty association reports FAIL.
	out, err = s.d.Delete(s.ctx, s.path("u1/profile"), Form{}, nil)
	s.Require().NoError(err)
	s.Equal("FAIL", out.Body)
}

func (s *DispatcherSuite) TestPreHookAborts() {
	s.bus.Subscribe(signal.PreCreate, func(ctx context.Context, m *signal.Message) error {
		return signal.ErrUnauthorized
	})

	out, err := s.d.Post(s.ctx, s.path(""), Form{"name": {"Bernardo"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusUnauthorized, out.Status)
	s.Zero(s.st.Count(reflect.TypeOf(dispatchUser{})))
}

func (s *DispatcherSuite) TestPreHookFailurePropagates() {
	s.bus.Subscribe(signal.PreUpdate, func(ctx context.Context, m *signal.Message) error {
		return errors.New("subscriber exploded")
	})
	s.saveUser(&dispatchUser{ID: "u1"})

	_, err := s.d.Put(s.ctx, s.path("u1"), Form{"name": {"x"}}, nil)
	s.Error(err)
}

func (s *DispatcherSuite) TestStoreErrorsBecomeOutcomes() {
	s.saveUser(&dispatchUser{ID: "u1"})

	out, err := s.d.Put(s.ctx, s.path("u1"), Form{"teams": {"t1"}}, nil)
	s.Require().NoError(err)
	s.Equal(StatusInvalid, out.Status, "assigning a list without brackets is a validation failure")
}

func TestOutcomeForStoreError(t *testing.T) {
	cases := []struct {
		err      error
		expected Status
	}{
		{store.NewUniquenessError("dup"), StatusConflict},
		{store.NewValidationError("bad"), StatusInvalid},
		{store.ErrNotFound, StatusNotFound},
	}
	for _, tc := range cases {
		out, handled := outcomeForStoreError(tc.err)
		if !handled || out.Status != tc.expected {
			t.Errorf("error %v: handled=%v status=%v", tc.err, handled, out.Status)
		}
	}
	if _, handled := outcomeForStoreError(errors.New("internal")); handled {
		t.Error("unrecognized errors must propagate unhandled")
	}
}
