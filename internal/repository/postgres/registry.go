package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dsr.gov.ph/registry/internal/dedup"
	"dsr.gov.ph/registry/internal/domain"
	apperrors "dsr.gov.ph/registry/internal/pkg/errors"
	"dsr.gov.ph/registry/internal/repository"
)

var (
	householdColumns = []string{
		"id", "household_number", "head_of_household_name", "head_of_household_psn",
		"total_members", "monthly_income::float8", "address", "barangay", "municipality", "province",
		"region", "is_indigenous", "is_pwd_household", "source_system", "batch_id",
		"created_at", "updated_at",
	}
	memberColumns = []string{
		"id", "household_id", "psn", "first_name", "middle_name", "last_name", "birth_date",
		"sex", "civil_status", "relationship_to_head", "is_pwd", "education_level", "email",
		"phone_number", "source_system", "batch_id", "created_at", "updated_at",
	}
)

// Registry is the PostgreSQL canonical store: households, members,
// economic profiles and their archives.
type Registry struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ dedup.CandidateSource = (*Registry)(nil)

// NewRegistry creates a Registry on pool.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool, now: time.Now}
}

// Persist writes a cleaned record and returns the new entity id. Unique
// indexes on household number, member PSN and profile household map to
// apperrors.ErrAlreadyExists.
func (r *Registry) Persist(ctx context.Context, req repository.PersistRequest) (string, error) {
	now := r.now().UTC()
	id := newID()

	switch req.DataType {
	case domain.DataTypeHousehold:
		h, err := repository.HouseholdFromPayload(id, req.Payload, now)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
		}
		h.SourceSystem, h.BatchID = req.SourceSystem, req.BatchID
		if err := insertHousehold(ctx, r.pool, h); err != nil {
			return "", err
		}
	case domain.DataTypeIndividual:
		m, err := repository.MemberFromPayload(id, req.Payload, now)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
		}
		m.SourceSystem, m.BatchID = req.SourceSystem, req.BatchID
		if m.HouseholdID, err = r.resolveHousehold(ctx, req.Payload); err != nil {
			return "", err
		}
		if err := insertMember(ctx, r.pool, m); err != nil {
			return "", err
		}
	case domain.DataTypeEconomicProfile:
		e, err := repository.ProfileFromPayload(id, req.Payload, now)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperrors.ErrBadRequest, err)
		}
		e.BatchID = req.BatchID
		if err := insertProfile(ctx, r.pool, e); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("persist %s: %w", req.DataType, apperrors.ErrBadRequest)
	}
	return id, nil
}

// resolveHousehold finds the household a member payload points at by id,
// then by household number. Unknown references leave the member unattached.
func (r *Registry) resolveHousehold(ctx context.Context, p domain.Payload) (string, error) {
	var id string
	if ref := p.String("householdId"); ref != "" {
		err := r.pool.QueryRow(ctx, `SELECT id FROM households WHERE id = $1`, ref).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", mapError(err, "resolve household "+ref)
		}
	}
	if number := p.String("householdNumber"); number != "" {
		err := r.pool.QueryRow(ctx,
			`SELECT id FROM households WHERE upper(household_number) = upper($1)`, number).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return "", mapError(err, "resolve household "+number)
		}
	}
	return "", nil
}

func insertHousehold(ctx context.Context, q querier, h *domain.Household) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("households")
	ib.Cols(
		"id", "household_number", "head_of_household_name", "head_of_household_psn",
		"total_members", "monthly_income", "address", "barangay", "municipality", "province",
		"region", "is_indigenous", "is_pwd_household", "source_system", "batch_id",
		"blocking_keys", "created_at", "updated_at",
	)
	ib.Values(
		h.ID, h.HouseholdNumber, h.HeadOfHouseholdName, h.HeadOfHouseholdPSN,
		h.TotalMembers, h.MonthlyIncome, h.Address, h.Barangay, h.Municipality, h.Province,
		h.Region, h.IsIndigenous, h.IsPWDHousehold, h.SourceSystem, h.BatchID,
		repository.HouseholdKeys(h), h.CreatedAt, h.UpdatedAt,
	)
	query, args := ib.Build()
	if _, err := q.Exec(ctx, query, args...); err != nil {
		return mapError(err, "insert household "+h.HouseholdNumber)
	}
	return nil
}

func insertMember(ctx context.Context, q querier, m *domain.HouseholdMember) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("household_members")
	ib.Cols(
		"id", "household_id", "psn", "first_name", "middle_name", "last_name", "birth_date",
		"sex", "civil_status", "relationship_to_head", "is_pwd", "education_level", "email",
		"phone_number", "source_system", "batch_id", "blocking_keys", "created_at", "updated_at",
	)
	ib.Values(
		m.ID, nullable(m.HouseholdID), nullable(m.PSN), m.FirstName, m.MiddleName, m.LastName, m.BirthDate,
		m.Sex, m.CivilStatus, m.RelationshipToHead, m.IsPWD, m.EducationLevel, m.Email,
		m.PhoneNumber, m.SourceSystem, m.BatchID, repository.MemberKeys(m), m.CreatedAt, m.UpdatedAt,
	)
	query, args := ib.Build()
	if _, err := q.Exec(ctx, query, args...); err != nil {
		return mapError(err, "insert member "+m.ID)
	}
	return nil
}

func insertProfile(ctx context.Context, q querier, e *domain.EconomicProfile) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto("economic_profiles")
	ib.Cols(
		"id", "household_id", "total_assets", "monthly_expenses", "income_sources", "livelihood",
		"house_type", "water_source", "toilet_facility", "batch_id", "blocking_keys", "created_at",
	)
	ib.Values(
		e.ID, e.HouseholdID, e.TotalAssets, e.MonthlyExpenses, e.IncomeSources, e.Livelihood,
		e.HouseType, e.WaterSource, e.ToiletFacility, e.BatchID, repository.ProfileKeys(e), e.CreatedAt,
	)
	query, args := ib.Build()
	if _, err := q.Exec(ctx, query, args...); err != nil {
		return mapError(err, "insert economic profile for "+e.HouseholdID)
	}
	return nil
}

// FindCandidates returns entities of dataType whose indexed blocking keys
// overlap keys, in id order.
func (r *Registry) FindCandidates(ctx context.Context, dataType domain.DataType, keys []string, limit int) ([]dedup.Candidate, error) {
	var table string
	var cols []string
	switch dataType {
	case domain.DataTypeHousehold:
		table, cols = "households", householdColumns
	case domain.DataTypeIndividual:
		table, cols = "household_members", memberColumns
	case domain.DataTypeEconomicProfile:
		table, cols = "economic_profiles", []string{"id", "household_id"}
	default:
		return nil, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(append(slices.Clone(cols), "blocking_keys")...).From(table)
	sb.Where("blocking_keys && " + sb.Var(keys))
	sb.OrderBy("id")
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.Build()

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "find candidates")
	}
	defer rows.Close()

	var out []dedup.Candidate
	for rows.Next() {
		var (
			id      string
			fields  domain.Payload
			indexed []string
		)
		switch dataType {
		case domain.DataTypeHousehold:
			h, err := scanHousehold(rows, &indexed)
			if err != nil {
				return nil, mapError(err, "scan household candidate")
			}
			id, fields = h.ID, repository.HouseholdFields(h)
		case domain.DataTypeIndividual:
			m, err := scanMember(rows, &indexed)
			if err != nil {
				return nil, mapError(err, "scan member candidate")
			}
			id, fields = m.ID, repository.MemberFields(m)
		default:
			var e domain.EconomicProfile
			if err := rows.Scan(&e.ID, &e.HouseholdID, &indexed); err != nil {
				return nil, mapError(err, "scan profile candidate")
			}
			id, fields = e.ID, repository.ProfileFields(&e)
		}
		out = append(out, dedup.Candidate{EntityID: id, BlockingKey: firstShared(indexed, keys), Fields: fields})
	}
	return out, mapError(rows.Err(), "find candidates")
}

func firstShared(indexed, keys []string) string {
	for _, k := range indexed {
		if slices.Contains(keys, k) {
			return k
		}
	}
	return ""
}

// Household returns a household with its members.
func (r *Registry) Household(ctx context.Context, id string) (*domain.Household, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(householdColumns...).From("households").Where(sb.Equal("id", id))
	query, args := sb.Build()
	h, err := scanHousehold(r.pool.QueryRow(ctx, query, args...), nil)
	if err != nil {
		return nil, mapError(err, "household "+id)
	}

	sb = sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(memberColumns...).From("household_members").Where(sb.Equal("household_id", id)).OrderBy("id")
	query, args = sb.Build()
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "household members "+id)
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMember(rows, nil)
		if err != nil {
			return nil, mapError(err, "scan member")
		}
		h.Members = append(h.Members, *m)
	}
	return h, mapError(rows.Err(), "household members "+id)
}

// Member returns one household member.
func (r *Registry) Member(ctx context.Context, id string) (*domain.HouseholdMember, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(memberColumns...).From("household_members").Where(sb.Equal("id", id))
	query, args := sb.Build()
	m, err := scanMember(r.pool.QueryRow(ctx, query, args...), nil)
	if err != nil {
		return nil, mapError(err, "member "+id)
	}
	return m, nil
}

// scanHousehold reads householdColumns, then blocking_keys when keys is set.
func scanHousehold(row pgx.Row, keys *[]string) (*domain.Household, error) {
	var h domain.Household
	dest := []any{
		&h.ID, &h.HouseholdNumber, &h.HeadOfHouseholdName, &h.HeadOfHouseholdPSN,
		&h.TotalMembers, &h.MonthlyIncome, &h.Address, &h.Barangay, &h.Municipality, &h.Province,
		&h.Region, &h.IsIndigenous, &h.IsPWDHousehold, &h.SourceSystem, &h.BatchID,
		&h.CreatedAt, &h.UpdatedAt,
	}
	if keys != nil {
		dest = append(dest, keys)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	h.CreatedAt, h.UpdatedAt = h.CreatedAt.UTC(), h.UpdatedAt.UTC()
	return &h, nil
}

// scanMember reads memberColumns, then blocking_keys when keys is set.
func scanMember(row pgx.Row, keys *[]string) (*domain.HouseholdMember, error) {
	var (
		m                domain.HouseholdMember
		householdID, psn *string
		birthDate        *time.Time
	)
	dest := []any{
		&m.ID, &householdID, &psn, &m.FirstName, &m.MiddleName, &m.LastName, &birthDate,
		&m.Sex, &m.CivilStatus, &m.RelationshipToHead, &m.IsPWD, &m.EducationLevel, &m.Email,
		&m.PhoneNumber, &m.SourceSystem, &m.BatchID, &m.CreatedAt, &m.UpdatedAt,
	}
	if keys != nil {
		dest = append(dest, keys)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	m.HouseholdID, m.PSN = deref(householdID), deref(psn)
	if birthDate != nil {
		d := time.Date(birthDate.Year(), birthDate.Month(), birthDate.Day(), 0, 0, 0, 0, time.UTC)
		m.BirthDate = &d
	}
	m.CreatedAt, m.UpdatedAt = m.CreatedAt.UTC(), m.UpdatedAt.UTC()
	return &m, nil
}
