package service

import (
	"testing"
	"time"

	"dmchat/internal/models"
)

func TestCreateOrGetDirect_Idempotent(t *testing.T) {
	db := newTestDB(t)
	svc := NewRoomService(db)
	a := seedUser(t, db, "a@example.com", "Ann", "One", false)
	b := seedUser(t, db, "b@example.com", "Ben", "Two", false)

	first, err := svc.CreateOrGetDirect(a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateOrGetDirect() error = %v", err)
	}
	again, err := svc.CreateOrGetDirect(a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateOrGetDirect() second call error = %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("second call returned room %d, want %d", again.ID, first.ID)
	}

	// Same pair in the other order must also match.
	reversed, err := svc.CreateOrGetDirect(b.ID, a.ID)
	if err != nil {
		t.Fatalf("CreateOrGetDirect() reversed error = %v", err)
	}
	if reversed.ID != first.ID {
		t.Errorf("reversed call returned room %d, want %d", reversed.ID, first.ID)
	}

	var count int64
	db.Model(&models.Room{}).Count(&count)
	if count != 1 {
		t.Errorf("room count = %d, want 1", count)
	}
}

func TestCreateOrGetDirect_MemberShape(t *testing.T) {
	db := newTestDB(t)
	svc := NewRoomService(db)
	a := seedUser(t, db, "a@example.com", "Ann", "One", false)
	b := seedUser(t, db, "b@example.com", "Ben", "Two", false)

	room, err := svc.CreateOrGetDirect(a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateOrGetDirect() error = %v", err)
	}
	if room.Type != models.RoomTypeDirect {
		t.Errorf("room type = %q, want direct", room.Type)
	}
	if room.CreatorID != a.ID {
		t.Errorf("creator id = %d, want %d", room.CreatorID, a.ID)
	}
	if len(room.Members) != 2 {
		t.Fatalf("member count = %d, want 2", len(room.Members))
	}
	roles := map[uint]string{}
	for _, m := range room.Members {
		roles[m.UserID] = m.Role
	}
	if roles[a.ID] != models.RoleAdmin {
		t.Errorf("creator role = %q, want admin", roles[a.ID])
	}
	if roles[b.ID] != models.RoleMember {
		t.Errorf("target role = %q, want member", roles[b.ID])
	}
}

func TestCreateOrGetDirect_Errors(t *testing.T) {
	db := newTestDB(t)
	svc := NewRoomService(db)
	a := seedUser(t, db, "a@example.com", "Ann", "One", false)

	if _, err := svc.CreateOrGetDirect(a.ID, 9999); err != ErrUserNotFound {
		t.Errorf("unknown target error = %v, want ErrUserNotFound", err)
	}
	if _, err := svc.CreateOrGetDirect(9999, a.ID); err != ErrUserNotFound {
		t.Errorf("unknown creator error = %v, want ErrUserNotFound", err)
	}
	if _, err := svc.CreateOrGetDirect(a.ID, a.ID); err != ErrSelfDirectRoom {
		t.Errorf("self pair error = %v, want ErrSelfDirectRoom", err)
	}
}

func TestHasAccess(t *testing.T) {
	now := time.Now()
	room := &models.Room{
		Members: []models.RoomMember{
			{UserID: 1, Role: models.RoleAdmin, LeftAt: nil},
			{UserID: 2, Role: models.RoleMember, LeftAt: &now},
		},
	}

	if !HasAccess(room, 1) {
		t.Error("active member should have access")
	}
	if HasAccess(room, 2) {
		t.Error("member who left should not have access")
	}
	if HasAccess(room, 3) {
		t.Error("non-member should not have access")
	}
}

func TestAddMember(t *testing.T) {
	db := newTestDB(t)
	svc := NewRoomService(db)
	a := seedUser(t, db, "a@example.com", "Ann", "One", false)
	b := seedUser(t, db, "b@example.com", "Ben", "Two", false)
	c := seedUser(t, db, "c@example.com", "Cal", "Three", false)
	room, err := svc.CreateOrGetDirect(a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateOrGetDirect() error = %v", err)
	}

	// b has role member, not admin
	if _, err := svc.AddMember(room.ID, b.ID, c.ID); err != ErrNotRoomAdmin {
		t.Errorf("AddMember() by non-admin error = %v, want ErrNotRoomAdmin", err)
	}
	// outsider is not an admin either
	if _, err := svc.AddMember(room.ID, c.ID, b.ID); err != ErrNotRoomAdmin {
		t.Errorf("AddMember() by outsider error = %v, want ErrNotRoomAdmin", err)
	}

	updated, err := svc.AddMember(room.ID, a.ID, c.ID)
	if err != nil {
		t.Fatalf("AddMember() by admin error = %v", err)
	}
	if len(updated.Members) != 3 {
		t.Errorf("member count = %d, want 3", len(updated.Members))
	}
	if !HasAccess(updated, c.ID) {
		t.Error("new member should have access")
	}

	if _, err := svc.AddMember(room.ID, a.ID, c.ID); err != ErrAlreadyMember {
		t.Errorf("AddMember() duplicate error = %v, want ErrAlreadyMember", err)
	}
	if _, err := svc.AddMember(room.ID, a.ID, 9999); err != ErrUserNotFound {
		t.Errorf("AddMember() unknown target error = %v, want ErrUserNotFound", err)
	}
}

func TestAddMember_ReactivatesLeftMember(t *testing.T) {
	db := newTestDB(t)
	svc := NewRoomService(db)
	a := seedUser(t, db, "a@example.com", "Ann", "One", false)
	b := seedUser(t, db, "b@example.com", "Ben", "Two", false)
	room, err := svc.CreateOrGetDirect(a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateOrGetDirect() error = %v", err)
	}

	if err := svc.Leave(room.ID, b.ID); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	left, _ := svc.Get(room.ID)
	if HasAccess(left, b.ID) {
		t.Fatal("member who left should not have access")
	}

	updated, err := svc.AddMember(room.ID, a.ID, b.ID)
	if err != nil {
		t.Fatalf("AddMember() reactivation error = %v", err)
	}
	if len(updated.Members) != 2 {
		t.Errorf("member count after reactivation = %d, want 2 (no duplicate row)", len(updated.Members))
	}
	if !HasAccess(updated, b.ID) {
		t.Error("reactivated member should have access")
	}
}

func TestLeave(t *testing.T) {
	db := newTestDB(t)
	svc := NewRoomService(db)
	a := seedUser(t, db, "a@example.com", "Ann", "One", false)
	b := seedUser(t, db, "b@example.com", "Ben", "Two", false)
	c := seedUser(t, db, "c@example.com", "Cal", "Three", false)
	room, err := svc.CreateOrGetDirect(a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateOrGetDirect() error = %v", err)
	}

	if err := svc.Leave(room.ID, c.ID); err != ErrNotMember {
		t.Errorf("Leave() by non-member error = %v, want ErrNotMember", err)
	}
	if err := svc.Leave(room.ID, b.ID); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	if err := svc.Leave(room.ID, b.ID); err != ErrNotMember {
		t.Errorf("Leave() twice error = %v, want ErrNotMember", err)
	}
}

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	svc := NewRoomService(db)
	msgSvc := NewMessageService(db, svc)
	a := seedUser(t, db, "a@example.com", "Ann", "One", false)
	b := seedUser(t, db, "b@example.com", "Ben", "Two", false)
	admin := seedUser(t, db, "root@example.com", "Root", "Admin", true)
	room, err := svc.CreateOrGetDirect(a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateOrGetDirect() error = %v", err)
	}
	if _, err := msgSvc.Create(a.ID, room.ID, "hello", ""); err != nil {
		t.Fatalf("Create message error = %v", err)
	}

	if err := svc.Delete(room.ID, a.ID); err != ErrNotSiteAdmin {
		t.Errorf("Delete() by regular user error = %v, want ErrNotSiteAdmin", err)
	}

	if err := svc.Delete(room.ID, admin.ID); err != nil {
		t.Fatalf("Delete() by admin error = %v", err)
	}
	if _, err := svc.Get(room.ID); err != ErrRoomNotFound {
		t.Errorf("Get() after delete error = %v, want ErrRoomNotFound", err)
	}
	var msgCount int64
	db.Model(&models.Message{}).Where("room_id = ?", room.ID).Count(&msgCount)
	if msgCount != 0 {
		t.Errorf("message count after purge = %d, want 0", msgCount)
	}
}

func TestListForUser(t *testing.T) {
	db := newTestDB(t)
	svc := NewRoomService(db)
	a := seedUser(t, db, "a@example.com", "Ann", "One", false)
	b := seedUser(t, db, "b@example.com", "Ben", "Two", false)
	c := seedUser(t, db, "c@example.com", "Cal", "Three", false)

	ab, err := svc.CreateOrGetDirect(a.ID, b.ID)
	if err != nil {
		t.Fatalf("CreateOrGetDirect(a,b) error = %v", err)
	}
	if _, err := svc.CreateOrGetDirect(a.ID, c.ID); err != nil {
		t.Fatalf("CreateOrGetDirect(a,c) error = %v", err)
	}

	rooms, err := svc.ListForUser(a.ID)
	if err != nil {
		t.Fatalf("ListForUser(a) error = %v", err)
	}
	if len(rooms) != 2 {
		t.Errorf("ListForUser(a) count = %d, want 2", len(rooms))
	}

	// After leaving a room it disappears from the listing.
	if err := svc.Leave(ab.ID, a.ID); err != nil {
		t.Fatalf("Leave() error = %v", err)
	}
	rooms, err = svc.ListForUser(a.ID)
	if err != nil {
		t.Fatalf("ListForUser(a) error = %v", err)
	}
	if len(rooms) != 1 {
		t.Errorf("ListForUser(a) after leave count = %d, want 1", len(rooms))
	}

	rooms, err = svc.ListForUser(b.ID)
	if err != nil {
		t.Fatalf("ListForUser(b) error = %v", err)
	}
	if len(rooms) != 1 || rooms[0].ID != ab.ID {
		t.Errorf("ListForUser(b) = %v, want only room %d", rooms, ab.ID)
	}
}
