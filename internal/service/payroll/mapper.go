package payroll

import "github.com/cmlabs-hris/payroll-engine/internal/domain/payroll"

func toRunResponse(r payroll.PayrollRun) payroll.RunResponse {
	return payroll.RunResponse{
		ID:                 r.ID,
		ClientID:           r.ClientID,
		PeriodMonth:        r.PeriodMonth,
		PeriodYear:         r.PeriodYear,
		Status:             string(r.Status),
		AttendanceUploadID: r.AttendanceUploadID,
		TotalStaff:         r.TotalStaff,
		TotalGross:         r.TotalGross,
		TotalDeductions:    r.TotalDeductions,
		TotalNet:           r.TotalNet,
		TotalCreditToBank:  r.TotalCreditToBank,
		Notes:              r.Notes,
		CreatedBy:          r.CreatedBy,
		ApprovedBy:         r.ApprovedBy,
		CalculatedAt:       r.CalculatedAt,
		ApprovedAt:         r.ApprovedAt,
		ExportedAt:         r.ExportedAt,
		CancelledAt:        r.CancelledAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func toItemResponse(it payroll.PayrollItem) payroll.ItemResponse {
	return payroll.ItemResponse{
		ID:                   it.ID,
		StaffID:              it.StaffID,
		StaffName:            it.StaffName,
		StaffCode:            it.StaffCode,
		BankName:             it.BankName,
		AccountNumber:        it.AccountNumber,
		PayGradeStructureID:  it.PayGradeStructureID,
		TemplateID:           it.TemplateID,
		DaysPresent:          it.DaysPresent,
		DaysAbsent:           it.DaysAbsent,
		TotalDays:            it.TotalDays,
		AttendanceFactor:     it.AttendanceFactor,
		GrossPay:             it.GrossPay,
		UnproratedGross:      it.UnproratedGross,
		TotalDeductions:      it.TotalDeductions,
		StatutoryTotal:       it.StatutoryTotal,
		NetPay:               it.NetPay,
		MonthlyReimbursables: it.MonthlyReimbursables,
		CreditToBank:         it.CreditToBank,
		ServiceFee:           it.ServiceFee,
		AllowancesDetail:     it.AllowancesDetail,
		DeductionsDetail:     it.DeductionsDetail,
		StatutoryDetail:      it.StatutoryDetail,
		EmolumentsSnapshot:   it.EmolumentsSnapshot,
	}
}
