package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cosplatform/eventcore/internal/database"
	"github.com/cosplatform/eventcore/internal/models"
	"github.com/cosplatform/eventcore/internal/policy"
	"github.com/cosplatform/eventcore/internal/security"
	"github.com/cosplatform/eventcore/pkg/errors"
	"github.com/cosplatform/eventcore/pkg/logger"
	"github.com/xuri/excelize/v2"
)

const attendanceSheet = "Attendance"

var attendanceHeader = []interface{}{
	"Registration ID", "Username", "Full name", "Email", "Status", "Guests", "Checked in", "Checked out", "QR code",
}

// SpreadsheetService exports attendance sheets and imports member rosters.
type SpreadsheetService struct {
	guarded
	communities *CommunityService
}

func NewSpreadsheetService(d Deps, communities *CommunityService) *SpreadsheetService {
	return &SpreadsheetService{guarded: newGuarded(d), communities: communities}
}

// ExportAttendance writes the registrations of an event as an XLSX workbook
// to w.
func (s *SpreadsheetService) ExportAttendance(ctx context.Context, actor *models.User, eventID uint, w io.Writer) error {
	event, err := s.store.Events.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if err := s.policy.Authorize(ctx, policy.ActionManageRegistrations, actor, policy.ForEvent(event)); err != nil {
		return err
	}
	regs, err := s.store.Registrations.ListRegistrations(ctx, eventID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", attendanceSheet); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to prepare sheet")
	}
	if err := f.SetSheetRow(attendanceSheet, "A1", &attendanceHeader); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to write header")
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetCellStyle(attendanceSheet, "A1", "I1", style)
	}

	for i, reg := range regs {
		row := []interface{}{
			reg.ID, reg.User.Username, reg.User.FullName, reg.User.Email,
			string(reg.Status), reg.GuestsCount, "", "", "",
		}
		if att := reg.Attendance; att != nil {
			if att.CheckIn != nil {
				row[6] = att.CheckIn.Format("2006-01-02 15:04:05")
			}
			if att.CheckOut != nil {
				row[7] = att.CheckOut.Format("2006-01-02 15:04:05")
			}
			row[8] = att.QRCode
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternalError, "failed to address cell")
		}
		if err := f.SetSheetRow(attendanceSheet, cell, &row); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternalError, "failed to write row")
		}
	}

	if err := f.Write(w); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternalError, "failed to write workbook")
	}
	logger.Info("Attendance exported", "event_id", eventID, "rows", len(regs), "actor_id", actor.ID)
	return nil
}

// ImportReport summarises a roster import.
type ImportReport struct {
	Created int
	Joined  int
	Skipped []string
}

// ImportRoster reads a workbook whose first sheet lists members as
// username, email, full name and an optional community role, and makes
// every row an active member of communityID. Unknown usernames are created.
// The first row is a header.
func (s *SpreadsheetService) ImportRoster(ctx context.Context, actor *models.User, communityID uint, r io.Reader) (*ImportReport, error) {
	if err := s.policy.Authorize(ctx, policy.ActionManageMembers, actor, policy.ForCommunity(communityID)); err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "failed to read sheet")
	}

	report := &ImportReport{}
	for i, row := range rows {
		if i == 0 || len(row) == 0 {
			continue
		}
		line := i + 1
		username := security.SanitizeString(row[0], 150)
		if username == "" {
			report.Skipped = append(report.Skipped, fmt.Sprintf("row %d: missing username", line))
			continue
		}
		role := models.CommunityRoleMember
		if len(row) > 3 && strings.TrimSpace(row[3]) != "" {
			role = models.CommunityRole(strings.ToLower(strings.TrimSpace(row[3])))
		}
		if !role.Valid() || role == models.CommunityRoleOwner {
			report.Skipped = append(report.Skipped, fmt.Sprintf("row %d: invalid role %q", line, role))
			continue
		}
		if role.Moderator() {
			if err := s.policy.Authorize(ctx, policy.ActionManageAdmins, actor, policy.ForCommunity(communityID)); err != nil {
				report.Skipped = append(report.Skipped, fmt.Sprintf("row %d: %s", line, err.Error()))
				continue
			}
		}

		created, joined, err := s.importRow(ctx, communityID, username, cellAt(row, 1), cellAt(row, 2), role)
		if err != nil {
			report.Skipped = append(report.Skipped, fmt.Sprintf("row %d: %s", line, err.Error()))
			continue
		}
		if created {
			report.Created++
		}
		if joined {
			report.Joined++
		}
	}

	logger.Info("Roster imported", "community_id", communityID, "created", report.Created,
		"joined", report.Joined, "skipped", len(report.Skipped))
	return report, nil
}

func (s *SpreadsheetService) importRow(ctx context.Context, communityID uint, username, email, fullName string, role models.CommunityRole) (bool, bool, error) {
	var created, joined bool
	err := database.Transact(ctx, s.store.DB, func(tx *database.Tx) error {
		users := s.store.Users.WithTx(tx.DB)
		user, err := users.GetUserByUsername(ctx, username)
		if errors.Is(err, errors.ErrCodeNotFound) {
			user = &models.User{
				Username: username,
				Email:    security.SanitizeString(email, 255),
				FullName: security.SanitizeText(fullName, 255),
			}
			if err := users.CreateUser(ctx, user); err != nil {
				return err
			}
			created = true
		} else if err != nil {
			return err
		}

		res, err := s.communities.join(ctx, tx, user.ID, communityID, role, "roster")
		if err != nil {
			return err
		}
		joined = res.Created
		return nil
	})
	return created, joined, err
}

func cellAt(row []string, i int) string {
	if i < len(row) {
		return row[i]
	}
	return ""
}
