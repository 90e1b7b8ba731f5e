// Package curriculum содержит справочник учебной программы:
// университет -> курс -> юнит (с годом обучения) -> тема.
//
// Справочник заполняется миграциями и через конвейер не изменяется,
// поэтому пакет не содержит мутирующих операций.
package curriculum

import (
	"errors"
	"fmt"

	"github.com/medquiz-hub/medquiz-content-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrUniversityNotFound - университет не найден.
	ErrUniversityNotFound = errors.New("university not found")

	// ErrCourseNotFound - курс не найден.
	ErrCourseNotFound = errors.New("course not found")

	// ErrUnitNotFound - юнит не найден.
	ErrUnitNotFound = errors.New("unit not found")

	// ErrTopicNotFound - тема не найдена.
	ErrTopicNotFound = errors.New("topic not found")
)

// ══════════════════════════════════════════════════════════════════════════════
// ENTITIES
// ══════════════════════════════════════════════════════════════════════════════

// University - университет.
type University struct {
	ID   int64
	Name string
}

// Course - курс университета (например, MBChB).
type Course struct {
	ID           int64
	UniversityID int64
	Name         string
}

// Unit - юнит курса, привязанный к году обучения.
type Unit struct {
	ID       int64
	CourseID int64
	Name     string
	Year     int
}

// Topic - тема юнита. Кандидаты и опубликованные вопросы ссылаются
// на тему по ID.
type Topic struct {
	ID     shared.TopicID
	UnitID int64
	Name   string
}

// TopicPath - развёрнутый путь темы для отображения и проверки областей.
type TopicPath struct {
	Topic      Topic
	Unit       Unit
	Course     Course
	University University
}

// String возвращает путь в виде "Юнит → Тема".
func (p TopicPath) String() string {
	return fmt.Sprintf("%s → %s", p.Unit.Name, p.Topic.Name)
}

// FullString возвращает путь от университета до темы.
func (p TopicPath) FullString() string {
	return fmt.Sprintf("%s / %s / Year %d / %s / %s",
		p.University.Name, p.Course.Name, p.Unit.Year, p.Unit.Name, p.Topic.Name)
}

// InCourse проверяет принадлежность темы курсу университета.
func (p TopicPath) InCourse(universityID, courseID int64) bool {
	return p.University.ID == universityID && p.Course.ID == courseID
}
