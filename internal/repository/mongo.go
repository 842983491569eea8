package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/harentsoaR/dentist-scheduling/internal/models"
)

const (
	appointmentsCollection = "appointments"
	providersCollection    = "providers"
	slotsCollection        = "availability_slots"
	usersCollection        = "users"
)

// MongoStore persists scheduling records in MongoDB.
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// EnsureIndexes creates the indexes the provider-day and reminder queries rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(appointmentsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "providerId", Value: 1}, {Key: "date", Value: 1}}},
		{Keys: bson.D{{Key: "startTime", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create appointment indexes: %w", err)
	}
	_, err = s.db.Collection(slotsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "providerId", Value: 1}, {Key: "date", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create availability slot indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) GetAppointmentsForProviderOnDate(ctx context.Context, providerID, date string) ([]models.Appointment, error) {
	filter := bson.M{"providerId": providerID, "date": date}
	return s.findAppointments(ctx, filter)
}

func (s *MongoStore) GetAppointmentsStartingBetween(ctx context.Context, from, to time.Time) ([]models.Appointment, error) {
	filter := bson.M{"startTime": bson.M{"$gt": from, "$lte": to}}
	return s.findAppointments(ctx, filter)
}

func (s *MongoStore) findAppointments(ctx context.Context, filter bson.M) ([]models.Appointment, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "startTime", Value: 1}})

	cursor, err := s.db.Collection(appointmentsCollection).Find(ctx, filter, findOptions)
	if err != nil {
		return nil, fmt.Errorf("find appointments: %w", err)
	}
	defer cursor.Close(ctx)

	var appointments []models.Appointment
	if err = cursor.All(ctx, &appointments); err != nil {
		return nil, fmt.Errorf("decode appointments: %w", err)
	}
	return appointments, nil
}

func (s *MongoStore) GetAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	var apt models.Appointment
	err := s.db.Collection(appointmentsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&apt)
	if err != nil {
		return nil, mapMongoErr(err)
	}
	return &apt, nil
}

func (s *MongoStore) CreateAppointment(ctx context.Context, apt *models.Appointment) error {
	doc := *apt
	// $addToSet fails on a null field
	if doc.RemindersSent == nil {
		doc.RemindersSent = []string{}
	}
	if _, err := s.db.Collection(appointmentsCollection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (s *MongoStore) UpdateAppointment(ctx context.Context, id string, patch models.AppointmentPatch) (*models.Appointment, error) {
	update := appointmentUpdate(patch, time.Now())

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var apt models.Appointment
	err := s.db.Collection(appointmentsCollection).
		FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).
		Decode(&apt)
	if err != nil {
		return nil, mapMongoErr(err)
	}
	return &apt, nil
}

// appointmentUpdate translates patch into a MongoDB update document.
func appointmentUpdate(patch models.AppointmentPatch, now time.Time) bson.M {
	set := bson.M{"updatedAt": now}
	if patch.StartTime != nil {
		set["startTime"] = *patch.StartTime
	}
	if patch.Date != nil {
		set["date"] = *patch.Date
	}
	if patch.DurationMinutes != nil {
		set["durationMinutes"] = *patch.DurationMinutes
	}
	if patch.Status != nil {
		set["status"] = *patch.Status
	}
	if patch.InsuranceState != nil {
		set["insuranceState"] = *patch.InsuranceState
	}
	if patch.Notes != nil {
		set["notes"] = *patch.Notes
	}

	update := bson.M{"$set": set}
	switch {
	case patch.ResetReminders && patch.AddReminder != "":
		set["remindersSent"] = []string{patch.AddReminder}
	case patch.ResetReminders:
		set["remindersSent"] = []string{}
	case patch.AddReminder != "":
		update["$addToSet"] = bson.M{"remindersSent": patch.AddReminder}
	}
	return update
}

func (s *MongoStore) GetProvider(ctx context.Context, id string) (*models.Provider, error) {
	var p models.Provider
	if err := s.db.Collection(providersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, mapMongoErr(err)
	}
	return &p, nil
}

func (s *MongoStore) CreateProvider(ctx context.Context, p *models.Provider) error {
	opts := options.Replace().SetUpsert(true)
	if _, err := s.db.Collection(providersCollection).ReplaceOne(ctx, bson.M{"_id": p.ID}, p, opts); err != nil {
		return fmt.Errorf("upsert provider: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateAvailabilitySlot(ctx context.Context, slot *models.AvailabilitySlot) error {
	if _, err := s.db.Collection(slotsCollection).InsertOne(ctx, slot); err != nil {
		return fmt.Errorf("insert availability slot: %w", err)
	}
	return nil
}

func (s *MongoStore) GetAvailabilitySlots(ctx context.Context, providerID, date string) ([]models.AvailabilitySlot, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "startTime", Value: 1}})
	cursor, err := s.db.Collection(slotsCollection).Find(ctx, bson.M{"providerId": providerID, "date": date}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("find availability slots: %w", err)
	}
	defer cursor.Close(ctx)

	var slots []models.AvailabilitySlot
	if err = cursor.All(ctx, &slots); err != nil {
		return nil, fmt.Errorf("decode availability slots: %w", err)
	}
	return slots, nil
}

// GetContact reads a patient from the users collection shared with the rest of the practice app.
func (s *MongoStore) GetContact(ctx context.Context, id string) (*models.Contact, error) {
	ids := bson.A{id}
	// users created by the practice app carry ObjectID keys
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		ids = append(ids, oid)
	}
	var c models.Contact
	if err := s.db.Collection(usersCollection).FindOne(ctx, bson.M{"_id": bson.M{"$in": ids}}).Decode(&c); err != nil {
		return nil, mapMongoErr(err)
	}
	return &c, nil
}

func mapMongoErr(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}
