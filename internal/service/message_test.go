package service

import (
	"strings"
	"testing"
	"time"

	"dmchat/internal/models"
)

func setupRoom(t *testing.T) (*MessageService, *RoomService, models.User, models.User, models.User, *models.Room) {
	t.Helper()
	db := newTestDB(t)
	rooms := NewRoomService(db)
	msgs := NewMessageService(db, rooms)
	a := seedUser(t, db, "a@example.com", "Ann", "One", false)
	b := seedUser(t, db, "b@example.com", "Ben", "Two", false)
	c := seedUser(t, db, "c@example.com", "Cal", "Three", false)
	room, err := rooms.CreateOrGetDirect(a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateOrGetDirect() error = %v", err)
	}
	return msgs, rooms, a, b, c, room
}

func TestMessageCreate(t *testing.T) {
	msgs, rooms, a, _, _, room := setupRoom(t)

	before, err := rooms.Get(room.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	dto, err := msgs.Create(a.ID, room.ID, "hi", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if dto.SenderID != a.ID {
		t.Errorf("sender id = %d, want %d", dto.SenderID, a.ID)
	}
	if dto.SenderName != "Ann One" {
		t.Errorf("sender name = %q, want denormalized %q", dto.SenderName, "Ann One")
	}
	if dto.Type != models.MessageTypeText {
		t.Errorf("type = %q, want default text", dto.Type)
	}

	after, err := rooms.Get(room.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if after.LastActivity.Before(before.LastActivity) {
		t.Error("Create() should bump room last activity")
	}
}

func TestMessageCreate_Validation(t *testing.T) {
	msgs, _, a, _, c, room := setupRoom(t)

	if _, err := msgs.Create(a.ID, room.ID, "", ""); err != ErrInvalidContent {
		t.Errorf("empty content error = %v, want ErrInvalidContent", err)
	}
	if _, err := msgs.Create(a.ID, room.ID, strings.Repeat("x", 2001), ""); err != ErrInvalidContent {
		t.Errorf("oversized content error = %v, want ErrInvalidContent", err)
	}
	if _, err := msgs.Create(a.ID, room.ID, "hi", "video"); err != ErrInvalidType {
		t.Errorf("unknown type error = %v, want ErrInvalidType", err)
	}
	if _, err := msgs.Create(a.ID, 9999, "hi", ""); err != ErrRoomNotFound {
		t.Errorf("unknown room error = %v, want ErrRoomNotFound", err)
	}
	if _, err := msgs.Create(c.ID, room.ID, "hi", ""); err != ErrNotMember {
		t.Errorf("non-member sender error = %v, want ErrNotMember", err)
	}
}

func TestListByRoom_AccessControl(t *testing.T) {
	msgs, _, a, b, c, room := setupRoom(t)

	if _, err := msgs.Create(a.ID, room.ID, "hi", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := msgs.ListByRoom(b.ID, room.ID, 0, 0, time.Time{})
	if err != nil {
		t.Fatalf("ListByRoom() by member error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "hi" {
		t.Errorf("ListByRoom() = %v, want single 'hi' message", got)
	}

	if _, err := msgs.ListByRoom(c.ID, room.ID, 0, 0, time.Time{}); err != ErrNotMember {
		t.Errorf("ListByRoom() by outsider error = %v, want ErrNotMember", err)
	}
}

func TestListByRoom_Pagination(t *testing.T) {
	msgs, rooms, a, _, _, room := setupRoom(t)
	db := rooms.db

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		m := models.Message{
			RoomID:     room.ID,
			SenderID:   a.ID,
			SenderName: "Ann One",
			Content:    string(rune('a' + i)),
			Type:       models.MessageTypeText,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := db.Create(&m).Error; err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	got, err := msgs.ListByRoom(a.ID, room.ID, 2, 0, time.Time{})
	if err != nil {
		t.Fatalf("ListByRoom() error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "e" || got[1].Content != "d" {
		t.Errorf("first page = %v, want [e d] (newest first)", got)
	}

	got, err = msgs.ListByRoom(a.ID, room.ID, 2, 2, time.Time{})
	if err != nil {
		t.Fatalf("ListByRoom() offset error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "c" || got[1].Content != "b" {
		t.Errorf("second page = %v, want [c b]", got)
	}

	// before cursor excludes everything at or after the given instant
	got, err = msgs.ListByRoom(a.ID, room.ID, 10, 0, base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ListByRoom() before error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "b" || got[1].Content != "a" {
		t.Errorf("before page = %v, want [b a]", got)
	}
}

func TestEdit(t *testing.T) {
	msgs, _, a, b, _, room := setupRoom(t)
	dto, err := msgs.Create(a.ID, room.ID, "original", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := msgs.Edit(dto.ID, b.ID, "hacked"); err != ErrNotSender {
		t.Errorf("Edit() by non-sender error = %v, want ErrNotSender", err)
	}
	if _, err := msgs.Edit(9999, a.ID, "x"); err != ErrMessageNotFound {
		t.Errorf("Edit() unknown message error = %v, want ErrMessageNotFound", err)
	}
	if _, err := msgs.Edit(dto.ID, a.ID, ""); err != ErrInvalidContent {
		t.Errorf("Edit() empty content error = %v, want ErrInvalidContent", err)
	}

	edited, err := msgs.Edit(dto.ID, a.ID, "fixed")
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if edited.Content != "fixed" || !edited.IsEdited || edited.EditedAt == nil {
		t.Errorf("Edit() = %+v, want content fixed with edit flags set", edited)
	}
}

func TestSoftDelete(t *testing.T) {
	msgs, rooms, a, b, _, room := setupRoom(t)
	dto, err := msgs.Create(a.ID, room.ID, "to be removed", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := msgs.SoftDelete(dto.ID, b.ID); err != ErrNotSender {
		t.Errorf("SoftDelete() by non-sender error = %v, want ErrNotSender", err)
	}
	if err := msgs.SoftDelete(dto.ID, a.ID); err != nil {
		t.Fatalf("SoftDelete() error = %v", err)
	}
	if err := msgs.SoftDelete(dto.ID, a.ID); err != ErrMessageDeleted {
		t.Errorf("SoftDelete() twice error = %v, want ErrMessageDeleted", err)
	}

	// Deleted messages leave the listing but the row keeps its content
	// (retention policy: soft delete flags only, no erasure).
	got, err := msgs.ListByRoom(a.ID, room.ID, 0, 0, time.Time{})
	if err != nil {
		t.Fatalf("ListByRoom() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListByRoom() after delete = %v, want empty", got)
	}
	var row models.Message
	if err := rooms.db.First(&row, dto.ID).Error; err != nil {
		t.Fatalf("load deleted row: %v", err)
	}
	if !row.IsDeleted || row.DeletedAt == nil {
		t.Error("row should carry delete flags")
	}
	if row.Content != "to be removed" {
		t.Errorf("deleted row content = %q, want retained original", row.Content)
	}

	// A soft-deleted message can no longer be edited.
	if _, err := msgs.Edit(dto.ID, a.ID, "resurrect"); err != ErrMessageDeleted {
		t.Errorf("Edit() deleted message error = %v, want ErrMessageDeleted", err)
	}
}
