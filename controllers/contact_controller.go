package controller

import (
	"encoding/csv"
	"errors"
	"strconv"
	"strings"

	"atendigram/i18n"
	"atendigram/middleware"
	"atendigram/models"
	"atendigram/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const importBatchSize = 100

type ContactController struct {
	DB        *gorm.DB
	Localizer *i18n.Localizer
	Logger    *logrus.Logger
}

func NewContactController(db *gorm.DB, localizer *i18n.Localizer, logger *logrus.Logger) *ContactController {
	return &ContactController{
		DB:        db,
		Localizer: localizer,
		Logger:    logger,
	}
}

type contactInput struct {
	ChatID    *int64 `json:"chat_id"`
	Username  string `json:"username" validate:"max=64"`
	Phone     string `json:"phone" validate:"max=32"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

func (in *contactInput) normalize() {
	in.Username = strings.TrimPrefix(strings.TrimSpace(in.Username), "@")
	in.Phone = strings.TrimSpace(in.Phone)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
}

func (in contactInput) identified() bool {
	return in.ChatID != nil || in.Username != "" || in.Phone != ""
}

// CreateContact adds a single contact, optionally to a list
func (cc *ContactController) CreateContact(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	var input struct {
		contactInput
		ListID string `json:"list_id"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	input.normalize()
	if err := utils.ValidateStruct(input.contactInput); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if !input.identified() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "One of chat_id, username or phone is required", nil)
	}

	if existing, err := cc.findExisting(accountID, input.contactInput); err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Contact already exists", errors.New("contact id "+existing.ID))
	}

	if input.ListID != "" {
		if _, err := cc.findList(accountID, input.ListID); err != nil {
			return cc.listError(c, err)
		}
	}

	contact := models.Contact{
		AccountID: accountID,
		ChatID:    input.ChatID,
		Username:  input.Username,
		Phone:     input.Phone,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Source:    "manual",
	}

	tx := cc.DB.Begin()
	if err := tx.Create(&contact).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create contact", err)
	}
	if input.ListID != "" {
		if err := tx.Create(&models.ContactListMembership{ContactListID: input.ListID, ContactID: contact.ID}).Error; err != nil {
			tx.Rollback()
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to add contact to list", err)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create contact", err)
	}
	if input.ListID != "" {
		cc.refreshCount(input.ListID)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(contact))
}

// GetContacts returns contacts with filtering and pagination
func (cc *ContactController) GetContacts(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := cc.DB.Model(&models.Contact{}).Where("contacts.account_id = ?", accountID)

	if listID := c.Query("list_id"); listID != "" {
		query = query.
			Joins("JOIN contact_list_memberships ON contact_list_memberships.contact_id = contacts.id").
			Where("contact_list_memberships.contact_list_id = ?", listID)
	}

	if search := strings.ToLower(strings.TrimSpace(c.Query("search"))); search != "" {
		like := "%" + search + "%"
		query = query.Where(
			"LOWER(contacts.first_name) LIKE ? OR LOWER(contacts.last_name) LIKE ? OR LOWER(contacts.username) LIKE ? OR contacts.phone LIKE ?",
			like, like, like, like,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count contacts", err)
	}

	var contacts []models.Contact
	if err := query.Order("contacts.created_at DESC").Offset(offset).Limit(limit).Find(&contacts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contacts", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  contacts,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

func (cc *ContactController) GetContact(c *fiber.Ctx) error {
	var contact models.Contact
	if err := cc.DB.Preload("Memberships").
		Where("id = ? AND account_id = ?", c.Params("id"), middleware.AccountID(c)).
		First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contact", err)
	}
	return c.JSON(utils.SuccessResponse(contact))
}

func (cc *ContactController) UpdateContact(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	var contact models.Contact
	if err := cc.DB.Where("id = ? AND account_id = ?", c.Params("id"), accountID).First(&contact).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contact", err)
	}

	var input contactInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	input.normalize()
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if !input.identified() {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "One of chat_id, username or phone is required", nil)
	}

	contact.ChatID = input.ChatID
	contact.Username = input.Username
	contact.Phone = input.Phone
	contact.FirstName = input.FirstName
	contact.LastName = input.LastName

	if err := cc.DB.Save(&contact).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update contact", err)
	}
	return c.JSON(utils.SuccessResponse(contact))
}

func (cc *ContactController) DeleteContact(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	contactID := c.Params("id")

	var listIDs []string
	cc.DB.Model(&models.ContactListMembership{}).Where("contact_id = ?", contactID).Pluck("contact_list_id", &listIDs)

	tx := cc.DB.Begin()
	if err := tx.Where("contact_id = ?", contactID).Delete(&models.ContactListMembership{}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete contact memberships", err)
	}
	result := tx.Where("id = ? AND account_id = ?", contactID, accountID).Delete(&models.Contact{})
	if result.Error != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete contact", result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact not found", nil)
	}
	tx.Commit()

	for _, id := range listIDs {
		cc.refreshCount(id)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Contact deleted successfully",
	}))
}

// ImportContacts imports contacts from a CSV file into a list. Rows matching an
// existing contact by chat_id, username or phone only add a membership.
func (cc *ContactController) ImportContacts(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	listID := c.Query("list_id")
	if listID == "" {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Contact list ID is required for import", nil)
	}

	list, err := cc.findList(accountID, listID)
	if err != nil {
		return cc.listError(c, err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File upload error", err)
	}

	// Check file size (max 5MB)
	if file.Size > 5<<20 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "File too large (max 5MB)", nil)
	}

	src, err := file.Open()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to open file", err)
	}
	defer src.Close()

	reader := csv.NewReader(src)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Failed to parse CSV file", err)
	}
	if len(records) < 2 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "CSV file must have at least a header and one row", nil)
	}

	header := make([]string, len(records[0]))
	for i, col := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(col))
	}
	rows := records[1:]

	imp := newContactImport(cc.DB, accountID, list.ID)
	for _, row := range rows {
		if len(row) != len(header) {
			imp.skipped++
			continue
		}
		data := make(map[string]string, len(header))
		for i, col := range header {
			data[col] = row[i]
		}
		input, ok := contactFromRecord(data)
		if !ok {
			imp.skipped++
			continue
		}
		if err := imp.add(input); err != nil {
			cc.Logger.WithError(err).Error("Failed to look up existing contact")
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to import contacts", err)
		}
		if len(imp.pending) >= importBatchSize {
			if err := imp.flush(); err != nil {
				cc.Logger.WithError(err).Error("Failed to import batch of contacts")
				return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to import contacts", err)
			}
		}
	}
	if err := imp.flush(); err != nil {
		cc.Logger.WithError(err).Error("Failed to import final batch of contacts")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to import contacts", err)
	}
	if err := imp.link(); err != nil {
		cc.Logger.WithError(err).Error("Failed to add contacts to list")
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to add contacts to list", err)
	}
	cc.refreshCount(list.ID)

	utils.LogEvent("contacts_imported", map[string]interface{}{
		"account_id": accountID,
		"list_id":    list.ID,
		"new":        imp.created,
		"existing":   imp.existing,
		"skipped":    imp.skipped,
	})

	var warnings []string
	if imp.skipped > 0 {
		lang := ""
		if account := middleware.CurrentAccount(c); account != nil {
			lang = account.Language
		}
		warnings = append(warnings, cc.Localizer.Get(lang, i18n.MsgImportSkippedRows, map[string]interface{}{"Count": imp.skipped}))
	}

	return c.JSON(utils.WarningResponse(fiber.Map{
		"message":       "Contacts imported successfully",
		"total_rows":    len(rows),
		"new_contacts":  imp.created,
		"added_to_list": len(imp.members),
		"skipped":       imp.skipped,
	}, warnings))
}

func contactFromRecord(data map[string]string) (contactInput, bool) {
	input := contactInput{
		Username:  data["username"],
		Phone:     data["phone"],
		FirstName: data["first_name"],
		LastName:  data["last_name"],
	}
	if raw := strings.TrimSpace(data["chat_id"]); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return input, false
		}
		input.ChatID = &id
	}
	input.normalize()
	return input, input.identified()
}

// contactImport accumulates new contacts and memberships for one list.
type contactImport struct {
	db        *gorm.DB
	accountID string
	listID    string

	pending []models.Contact
	members []string
	seen    map[string]bool

	created, existing, skipped int
}

func newContactImport(db *gorm.DB, accountID, listID string) *contactImport {
	return &contactImport{db: db, accountID: accountID, listID: listID, seen: map[string]bool{}}
}

func importKeys(in contactInput) []string {
	var keys []string
	if in.ChatID != nil {
		keys = append(keys, "chat:"+strconv.FormatInt(*in.ChatID, 10))
	}
	if in.Username != "" {
		keys = append(keys, "user:"+strings.ToLower(in.Username))
	}
	if in.Phone != "" {
		keys = append(keys, "phone:"+in.Phone)
	}
	return keys
}

func (imp *contactImport) add(in contactInput) error {
	keys := importKeys(in)
	for _, k := range keys {
		if imp.seen[k] {
			imp.skipped++
			return nil
		}
	}
	for _, k := range keys {
		imp.seen[k] = true
	}

	existing, err := findContact(imp.db, imp.accountID, in)
	if err == nil {
		imp.existing++
		imp.members = append(imp.members, existing.ID)
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	imp.pending = append(imp.pending, models.Contact{
		AccountID: imp.accountID,
		ChatID:    in.ChatID,
		Username:  in.Username,
		Phone:     in.Phone,
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Source:    "csv",
	})
	return nil
}

func (imp *contactImport) flush() error {
	if len(imp.pending) == 0 {
		return nil
	}
	if err := imp.db.Create(&imp.pending).Error; err != nil {
		return err
	}
	for _, contact := range imp.pending {
		imp.members = append(imp.members, contact.ID)
	}
	imp.created += len(imp.pending)
	imp.pending = nil
	return nil
}

func (imp *contactImport) link() error {
	memberships := make([]models.ContactListMembership, 0, len(imp.members))
	for _, id := range imp.members {
		memberships = append(memberships, models.ContactListMembership{ContactListID: imp.listID, ContactID: id})
	}
	if len(memberships) == 0 {
		return nil
	}
	return imp.db.Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&memberships, importBatchSize).Error
}

func findContact(db *gorm.DB, accountID string, in contactInput) (*models.Contact, error) {
	query := db.Where("account_id = ?", accountID)
	cond := db.Where("1 = 0")
	if in.ChatID != nil {
		cond = cond.Or("chat_id = ?", *in.ChatID)
	}
	if in.Username != "" {
		cond = cond.Or("LOWER(username) = ?", strings.ToLower(in.Username))
	}
	if in.Phone != "" {
		cond = cond.Or("phone = ?", in.Phone)
	}
	var contact models.Contact
	if err := query.Where(cond).First(&contact).Error; err != nil {
		return nil, err
	}
	return &contact, nil
}

func (cc *ContactController) findExisting(accountID string, in contactInput) (*models.Contact, error) {
	return findContact(cc.DB, accountID, in)
}

// Contact lists

func (cc *ContactController) CreateList(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	var input struct {
		Name        string `json:"name" validate:"required,max=100"`
		Description string `json:"description" validate:"max=500"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var existing models.ContactList
	if err := cc.DB.Where("name = ? AND account_id = ?", input.Name, accountID).First(&existing).Error; err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "List with this name already exists", nil)
	}

	list := models.ContactList{
		AccountID:   accountID,
		Name:        input.Name,
		Description: input.Description,
		Source:      "manual",
	}
	if err := cc.DB.Create(&list).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create contact list", err)
	}
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(list))
}

func (cc *ContactController) GetLists(c *fiber.Ctx) error {
	var lists []models.ContactList
	if err := cc.DB.Where("account_id = ?", middleware.AccountID(c)).Order("created_at DESC").Find(&lists).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contact lists", err)
	}
	return c.JSON(utils.SuccessResponse(lists))
}

func (cc *ContactController) GetList(c *fiber.Ctx) error {
	list, err := cc.findList(middleware.AccountID(c), c.Params("id"))
	if err != nil {
		return cc.listError(c, err)
	}
	return c.JSON(utils.SuccessResponse(list))
}

func (cc *ContactController) UpdateList(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	var input struct {
		Name        string `json:"name" validate:"required,max=100"`
		Description string `json:"description" validate:"max=500"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	list, err := cc.findList(accountID, c.Params("id"))
	if err != nil {
		return cc.listError(c, err)
	}

	if input.Name != list.Name {
		var existing models.ContactList
		if err := cc.DB.Where("name = ? AND account_id = ?", input.Name, accountID).First(&existing).Error; err == nil {
			return utils.ErrorResponse(c, fiber.StatusConflict, "List with this name already exists", nil)
		}
		list.Name = input.Name
	}
	list.Description = input.Description

	if err := cc.DB.Save(list).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update contact list", err)
	}
	return c.JSON(utils.SuccessResponse(list))
}

func (cc *ContactController) DeleteList(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)
	listID := c.Params("id")

	tx := cc.DB.Begin()

	// the list must belong to the caller before memberships go
	result := tx.Where("id = ? AND account_id = ?", listID, accountID).Delete(&models.ContactList{})
	if result.Error != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete contact list", result.Error)
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact list not found", nil)
	}
	if err := tx.Where("contact_list_id = ?", listID).Delete(&models.ContactListMembership{}).Error; err != nil {
		tx.Rollback()
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete list memberships", err)
	}
	tx.Commit()

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Contact list deleted successfully",
	}))
}

// AddContactsToList adds existing contacts to a list
func (cc *ContactController) AddContactsToList(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	var input struct {
		ContactIDs []string `json:"contact_ids" validate:"required,min=1"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	list, err := cc.findList(accountID, c.Params("id"))
	if err != nil {
		return cc.listError(c, err)
	}

	var owned []string
	if err := cc.DB.Model(&models.Contact{}).
		Where("id IN ? AND account_id = ?", input.ContactIDs, accountID).
		Pluck("id", &owned).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to verify contacts", err)
	}

	memberships := make([]models.ContactListMembership, 0, len(owned))
	for _, id := range owned {
		memberships = append(memberships, models.ContactListMembership{ContactListID: list.ID, ContactID: id})
	}
	var added int64
	if len(memberships) > 0 {
		result := cc.DB.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&memberships, importBatchSize)
		if result.Error != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to add contacts to list", result.Error)
		}
		added = result.RowsAffected
	}
	cc.refreshCount(list.ID)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message":   "Contacts added to list successfully",
		"added":     added,
		"not_found": len(input.ContactIDs) - len(owned),
	}))
}

func (cc *ContactController) RemoveContactsFromList(c *fiber.Ctx) error {
	accountID := middleware.AccountID(c)

	var input struct {
		ContactIDs []string `json:"contact_ids" validate:"required,min=1"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	list, err := cc.findList(accountID, c.Params("id"))
	if err != nil {
		return cc.listError(c, err)
	}

	result := cc.DB.Where("contact_list_id = ? AND contact_id IN ?", list.ID, input.ContactIDs).Delete(&models.ContactListMembership{})
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to remove contacts from list", result.Error)
	}
	cc.refreshCount(list.ID)

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"message": "Contacts removed from list successfully",
		"removed": result.RowsAffected,
	}))
}

func (cc *ContactController) findList(accountID, listID string) (*models.ContactList, error) {
	var list models.ContactList
	if err := cc.DB.Where("id = ? AND account_id = ?", listID, accountID).First(&list).Error; err != nil {
		return nil, err
	}
	return &list, nil
}

func (cc *ContactController) listError(c *fiber.Ctx, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Contact list not found", nil)
	}
	return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch contact list", err)
}

// refreshCount recomputes the denormalized contact count of a list.
func (cc *ContactController) refreshCount(listID string) {
	var n int64
	if err := cc.DB.Model(&models.ContactListMembership{}).Where("contact_list_id = ?", listID).Count(&n).Error; err != nil {
		cc.Logger.WithError(err).WithField("list_id", listID).Warn("Failed to count list members")
		return
	}
	cc.DB.Model(&models.ContactList{}).Where("id = ?", listID).UpdateColumn("contact_count", n)
}
